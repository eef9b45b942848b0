package testserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"GoLocShare/internal/model"
	"GoLocShare/internal/push"
)

// ServerConfig 测试服务器配置
type ServerConfig struct {
	Addr    string
	User    model.Identity // 已认证用户身份
	Token   string         // 接受的Bearer访问令牌
	Friends []model.Friend // 好友列表快照

	Latency         time.Duration // 每个API请求的附加延迟
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultServerConfig 返回默认配置
func DefaultServerConfig(addr string) *ServerConfig {
	return &ServerConfig{
		Addr:  addr,
		Token: "test-access-token",
		User: model.Identity{
			Username: "demo_user",
			Name:     "Demo User",
			Email:    "demo@example.com",
		},
		Friends: []model.Friend{
			{Username: "alice01", Name: "Alice Chen", Email: "alice@example.com"},
			{Username: "bob02", Name: "Bob Wang", Email: "bob@example.com"},
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// forcedError 强制错误注入配置
type forcedError struct {
	Status  int
	Code    string
	Message string
}

// Server 测试用位置共享API服务器
type Server struct {
	config   *ServerConfig
	router   *mux.Router
	server   *http.Server
	upgrader websocket.Upgrader

	// 会话存储
	sessions sync.Map // map[string]*model.Session
	// 会话写操作互斥（token提交会追加事件并翻转complete）
	sessionMu sync.Mutex

	// 推送连接管理
	pushConns sync.Map // map[string]*websocket.Conn
	pushCount atomic.Int32

	// 测试控制
	latencyMs   atomic.Int64
	forcedErr   atomic.Value // *forcedError
	isRunning   atomic.Bool
	forceClosed atomic.Bool

	// 统计信息
	requestCount  atomic.Uint64
	errorCount    atomic.Uint64
	friendFetches atomic.Uint64
	startTime     time.Time
}

// New 创建新的测试服务器
func New(config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig("127.0.0.1:8080")
	}

	server := &Server{
		config: config,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有源
			},
		},
		startTime: time.Now(),
	}
	server.latencyMs.Store(config.Latency.Milliseconds())

	server.setupRoutes()

	// 设置CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	server.server = &http.Server{
		Addr:         config.Addr,
		Handler:      c.Handler(server.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	// API路由（需要Bearer认证）
	api := s.router.NewRoute().Subrouter()
	api.Use(s.authMiddleware)
	api.Use(s.controlMiddleware)

	api.HandleFunc("/history", s.historyHandler).Methods("GET")
	api.HandleFunc("/friends", s.friendsHandler).Methods("GET")
	api.HandleFunc("/location/request/{id}", s.requestDetailHandler).Methods("GET")
	api.HandleFunc("/location/notification/{id}", s.notificationDetailHandler).Methods("GET")
	api.HandleFunc("/location/request", s.createRequestHandler).Methods("POST")
	api.HandleFunc("/location/notification", s.createNotificationHandler).Methods("POST")

	// 推送通道和测试控制（不走认证）
	s.router.HandleFunc("/push", s.handlePush)
	s.router.HandleFunc("/stats", s.statsHandler).Methods("GET")
	s.router.HandleFunc("/control", s.controlHandler).Methods("POST")
}

// 中间件
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s %v", r.Method, r.RequestURI, r.RemoteAddr, time.Since(start))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)

		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+s.config.Token {
			s.writeErrorResponse(w, http.StatusUnauthorized, "invalid_token", "Access token is missing or invalid")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) controlMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ms := s.latencyMs.Load(); ms > 0 {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}

		if fe, ok := s.forcedErr.Load().(*forcedError); ok && fe != nil {
			s.writeErrorResponse(w, fe.Status, fe.Code, fe.Message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// historyHandler 按方向返回会话列表
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	direction := r.URL.Query().Get("type")
	if direction != "outgoing" && direction != "incoming" {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "type must be outgoing or incoming")
		return
	}

	var sessions []*model.Session
	s.sessionMu.Lock()
	s.sessions.Range(func(key, value interface{}) bool {
		sess := value.(*model.Session)
		if (direction == "outgoing" && s.isUser(sess.Sender)) ||
			(direction == "incoming" && s.isUser(sess.Recipient)) {
			snapshot := *sess
			sessions = append(sessions, &snapshot)
		}
		return true
	})
	s.sessionMu.Unlock()

	// 最近的排在前面
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedDate.After(sessions[j].CreatedDate)
	})

	if sessions == nil {
		sessions = []*model.Session{}
	}
	s.writeDataResponse(w, sessions)
}

// friendsHandler 返回好友列表
func (s *Server) friendsHandler(w http.ResponseWriter, r *http.Request) {
	s.friendFetches.Add(1)
	if r.URL.Query().Get("refresh") == "1" {
		log.Printf("Friends cache refresh requested")
	}
	s.writeDataResponse(w, s.config.Friends)
}

// requestDetailHandler 返回单个位置请求会话
func (s *Server) requestDetailHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	value, ok := s.sessions.Load(id)
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, "not_found", "Location request not found")
		return
	}
	sess := value.(*model.Session)
	if sess.Type != model.TypeRequest {
		s.writeErrorResponse(w, http.StatusNotFound, "not_found", "Location request not found")
		return
	}

	s.sessionMu.Lock()
	snapshot := *sess
	s.sessionMu.Unlock()
	s.writeDataResponse(w, &snapshot)
}

// notificationDetailHandler 返回单个位置通知会话。
// 接收方查看后该会话记为complete。
func (s *Server) notificationDetailHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	value, ok := s.sessions.Load(id)
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, "not_found", "Location notification not found")
		return
	}
	sess := value.(*model.Session)
	if sess.Type != model.TypeNotification {
		s.writeErrorResponse(w, http.StatusNotFound, "not_found", "Location notification not found")
		return
	}

	s.sessionMu.Lock()
	if s.isUser(sess.Recipient) && !sess.State.Complete {
		sess.State.Complete = true
		log.Printf("Notification %s viewed by recipient, marked complete", id)
	}
	snapshot := *sess
	s.sessionMu.Unlock()
	s.writeDataResponse(w, &snapshot)
}

// createRequestHandler 创建位置请求会话
func (s *Server) createRequestHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Message  string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	recipient, ok := s.resolveRecipient(req.Email, req.Username)
	if !ok {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_recipient", "Recipient email or username is required")
		return
	}

	sess := &model.Session{
		ID:          uuid.NewString(),
		Type:        model.TypeRequest,
		Sender:      s.config.User,
		Recipient:   recipient,
		CreatedDate: time.Now().UTC(),
		Message:     req.Message,
		State: model.ExchangeState{
			Key:   uuid.NewString(),
			Token: uuid.NewString(),
		},
	}
	s.sessions.Store(sess.ID, sess)

	log.Printf("Location request created: %s -> %s", sess.Sender.Username, recipient.DisplayName())
	s.broadcastEvent(push.Event{Type: string(model.TypeRequest), ID: sess.ID})
	s.writeDataResponse(w, sess)
}

// createNotificationHandler 创建位置通知。携带token时视为对既有
// 位置请求的应答：追加位置事件并把该请求记为complete。
func (s *Server) createNotificationHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Token    string `json:"token"`
		Message  string `json:"message"`
		LatLng   string `json:"latlng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	location, err := model.ParseLatLng(req.LatLng)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_location", "latlng must be a lat,lng pair")
		return
	}

	if req.Token != "" {
		s.answerRequest(w, req.Token, location)
		return
	}

	recipient, ok := s.resolveRecipient(req.Email, req.Username)
	if !ok {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_recipient", "Recipient email or username is required")
		return
	}

	sess := &model.Session{
		ID:          uuid.NewString(),
		Type:        model.TypeNotification,
		Sender:      s.config.User,
		Recipient:   recipient,
		CreatedDate: time.Now().UTC(),
		Message:     req.Message,
		Location:    &location,
		State: model.ExchangeState{
			Key: uuid.NewString(),
		},
	}
	s.sessions.Store(sess.ID, sess)

	log.Printf("Location notification created: %s -> %s", sess.Sender.Username, recipient.DisplayName())
	s.broadcastEvent(push.Event{Type: string(model.TypeNotification), ID: sess.ID})
	s.writeDataResponse(w, sess)
}

// answerRequest 用token定位请求会话，追加位置事件
func (s *Server) answerRequest(w http.ResponseWriter, token string, location model.LatLng) {
	var target *model.Session
	s.sessions.Range(func(key, value interface{}) bool {
		sess := value.(*model.Session)
		if sess.Type == model.TypeRequest && sess.State.Token == token {
			target = sess
			return false
		}
		return true
	})
	if target == nil {
		s.writeErrorResponse(w, http.StatusNotFound, "invalid_token", "No location request matches token")
		return
	}

	s.sessionMu.Lock()
	target.Notifications = append(target.Notifications, model.LocationEvent{
		Location:    location,
		CreatedDate: time.Now().UTC(),
	})
	target.State.Complete = true
	snapshot := *target
	s.sessionMu.Unlock()

	log.Printf("Location request %s answered, %d event(s)", target.ID, len(snapshot.Notifications))
	s.broadcastEvent(push.Event{Type: string(model.TypeRequest), ID: target.ID})
	s.writeDataResponse(w, &snapshot)
}

// handlePush 处理推送通道的WebSocket连接
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Push upgrade failed: %v", err)
		return
	}

	connID := fmt.Sprintf("push_%d", time.Now().UnixNano())
	s.pushConns.Store(connID, conn)
	s.pushCount.Add(1)
	log.Printf("Push subscriber connected: %s from %s", connID, r.RemoteAddr)

	defer func() {
		s.pushConns.Delete(connID)
		s.pushCount.Add(-1)
		conn.Close()
		log.Printf("Push subscriber disconnected: %s", connID)
	}()

	// 保持连接活跃，消费客户端的控制帧
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Push connection error: %v", err)
			}
			return
		}
	}
}

// broadcastEvent 向所有推送订阅者广播事件
func (s *Server) broadcastEvent(event push.Event) {
	s.pushConns.Range(func(key, value interface{}) bool {
		conn := value.(*websocket.Conn)
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("Broadcast to %s failed: %v", key.(string), err)
		}
		return true
	})
}

// ForceDisconnectPush 强制断开所有推送连接
func (s *Server) ForceDisconnectPush() {
	log.Printf("Force disconnecting push subscribers")
	s.pushConns.Range(func(key, value interface{}) bool {
		conn := value.(*websocket.Conn)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Force disconnect"),
			time.Now().Add(time.Second))
		conn.Close()
		return true
	})
}

// SetLatency 设置API请求附加延迟
func (s *Server) SetLatency(d time.Duration) {
	s.latencyMs.Store(d.Milliseconds())
}

// ForceError 让后续API请求返回指定错误
func (s *Server) ForceError(status int, code, message string) {
	s.errorCount.Add(1)
	s.forcedErr.Store(&forcedError{Status: status, Code: code, Message: message})
}

// ClearError 清除错误注入
func (s *Server) ClearError() {
	s.forcedErr.Store((*forcedError)(nil))
}

// Seed 预置一个会话（测试用）
func (s *Server) Seed(sess *model.Session) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	s.sessions.Store(sess.ID, sess)
}

// Session 按ID读取会话快照（测试用）
func (s *Server) Session(id string) (*model.Session, bool) {
	value, ok := s.sessions.Load(id)
	if !ok {
		return nil, false
	}
	s.sessionMu.Lock()
	snapshot := *value.(*model.Session)
	s.sessionMu.Unlock()
	return &snapshot, true
}

// controlHandler 处理测试控制命令
func (s *Server) controlHandler(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	switch action {
	case "disconnect_push":
		s.ForceDisconnectPush()
		fmt.Fprintf(w, "Disconnected push subscribers")
	case "set_latency":
		ms, err := strconv.Atoi(r.URL.Query().Get("ms"))
		if err != nil || ms < 0 {
			http.Error(w, "Invalid ms parameter", http.StatusBadRequest)
			return
		}
		s.SetLatency(time.Duration(ms) * time.Millisecond)
		fmt.Fprintf(w, "Latency set to %dms", ms)
	case "force_error":
		status, err := strconv.Atoi(r.URL.Query().Get("status"))
		if err != nil || status < 400 {
			status = http.StatusInternalServerError
		}
		s.ForceError(status, "forced_error", "Injected test failure")
		fmt.Fprintf(w, "Error injection enabled")
	case "clear_error":
		s.ClearError()
		fmt.Fprintf(w, "Error injection cleared")
	default:
		http.Error(w, "Unknown action", http.StatusBadRequest)
	}
}

// statsHandler 返回统计信息
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.GetStats())
}

// isUser 判断身份是否为配置的认证用户
func (s *Server) isUser(id model.Identity) bool {
	if id.Username != "" && id.Username == s.config.User.Username {
		return true
	}
	return id.Email != "" && id.Email == s.config.User.Email
}

// resolveRecipient 从email或username解析接收方，email优先
func (s *Server) resolveRecipient(email, username string) (model.Identity, bool) {
	if email != "" {
		for _, f := range s.config.Friends {
			if f.Email == email {
				return model.Identity{Username: f.Username, Name: f.Name, Email: f.Email}, true
			}
		}
		return model.Identity{Email: email}, true
	}
	if username != "" {
		for _, f := range s.config.Friends {
			if f.Username == username {
				return model.Identity{Username: f.Username, Name: f.Name, Email: f.Email}, true
			}
		}
		return model.Identity{Username: username}, true
	}
	return model.Identity{}, false
}

// 响应封装：成功 {"data": ...}，失败 {"error": {"message", "code"}}
func (s *Server) writeDataResponse(w http.ResponseWriter, data interface{}) {
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"data": data})
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	s.errorCount.Add(1)
	s.writeJSONResponse(w, statusCode, map[string]interface{}{
		"error": map[string]string{"message": message, "code": code},
	})
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// Start 启动服务器
func (s *Server) Start() error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("server is already running")
	}

	log.Printf("Starting test API server on %s", s.config.Addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// 给服务器足够的时间启动
	time.Sleep(200 * time.Millisecond)
	return nil
}

// Shutdown 关闭服务器
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.isRunning.CompareAndSwap(true, false) {
		return nil
	}

	log.Printf("Shutting down test API server...")
	s.ForceDisconnectPush()
	return s.server.Shutdown(ctx)
}

// URL 返回服务器HTTP基地址
func (s *Server) URL() string {
	return "http://" + s.config.Addr
}

// PushURL 返回推送通道的WebSocket地址
func (s *Server) PushURL() string {
	return "ws://" + s.config.Addr + "/push"
}

// GetStats 获取服务器统计信息
func (s *Server) GetStats() map[string]interface{} {
	sessionCount := 0
	s.sessions.Range(func(key, value interface{}) bool {
		sessionCount++
		return true
	})

	return map[string]interface{}{
		"running":          s.isRunning.Load(),
		"uptime_seconds":   time.Since(s.startTime).Seconds(),
		"sessions":         sessionCount,
		"push_subscribers": s.pushCount.Load(),
		"total_requests":   s.requestCount.Load(),
		"total_errors":     s.errorCount.Load(),
		"friend_fetches":   s.friendFetches.Load(),
	}
}
