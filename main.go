package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"GoLocShare/internal/api"
	"GoLocShare/internal/config"
	"GoLocShare/internal/contacts"
	"GoLocShare/internal/detail"
	"GoLocShare/internal/feed"
	"GoLocShare/internal/geo"
	"GoLocShare/internal/logger"
	"GoLocShare/internal/model"
	"GoLocShare/internal/push"
	"GoLocShare/internal/sendform"
	"GoLocShare/internal/testserver"
)

func main() {
	var (
		mode       = flag.String("mode", "demo", "运行模式: demo, server, client")
		addr       = flag.String("addr", "127.0.0.1:8080", "服务器地址")
		token      = flag.String("token", "test-access-token", "访问令牌")
		configPath = flag.String("config", "", "YAML配置文件路径")
	)
	flag.Parse()

	logger.InitLogger()

	manager := config.NewManager(config.WithConfigPath(*configPath))
	cfg, err := manager.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	switch *mode {
	case "demo":
		runDemo()
	case "server":
		runServer(*addr)
	case "client":
		runClient(cfg, *token)
	default:
		fmt.Printf("未知模式: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runDemo 运行演示模式
func runDemo() {
	fmt.Println("🚀 GoLocShare - 位置共享客户端核心")
	fmt.Println("=================================================")
	fmt.Println()

	fmt.Println("📋 项目特性:")
	fmt.Println("  ✅ 位置请求/位置通知双向会话")
	fmt.Println("  ✅ 活动Feed聚合 + complete单调保证")
	fmt.Println("  ✅ 详情视图状态机 + 地图渲染")
	fmt.Println("  ✅ 发送表单校验（好友/邮箱二选一）")
	fmt.Println("  ✅ WebSocket推送 + 自动重连")
	fmt.Println("  ✅ 完整测试套件(端到端/单元)")
	fmt.Println()

	fmt.Println("🔧 快速开始:")
	fmt.Println("  # 启动测试API服务器")
	fmt.Println("  go run main.go -mode=server")
	fmt.Println()
	fmt.Println("  # 运行完整交换流程演示")
	fmt.Println("  go run main.go -mode=client")
	fmt.Println()
	fmt.Println("  # 运行所有测试")
	fmt.Println("  go test ./...")
}

// runServer 运行测试API服务器
func runServer(addr string) {
	fmt.Printf("🖥️  启动测试API服务器 %s\n", addr)

	config := testserver.DefaultServerConfig(addr)
	server := testserver.New(config)

	if err := server.Start(); err != nil {
		log.Fatalf("启动服务器失败: %v", err)
	}

	fmt.Printf("✅ 服务器已启动，监听地址: %s\n", addr)
	fmt.Printf("📊 统计信息: %s/stats\n", server.URL())
	fmt.Printf("📡 推送端点: %s\n", server.PushURL())
	fmt.Printf("🔑 访问令牌: %s\n", config.Token)

	// 优雅关闭
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c
	fmt.Println("\n🔄 正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("服务器关闭错误: %v", err)
	}

	fmt.Println("✅ 服务器已关闭")
}

// runClient 运行完整交换流程演示
func runClient(cfg *config.ClientConfig, token string) {
	fmt.Printf("🔥 位置共享交换流程演示\n")
	fmt.Printf("   API地址: %s\n", cfg.API.BaseURL)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	clientConfig := api.DefaultClientConfig(cfg.API.BaseURL)
	clientConfig.Timeout = cfg.API.Timeout
	client := api.New(clientConfig, api.StaticToken(token))
	aggregator := feed.NewAggregator(client)
	recent := contacts.NewRecent(cfg.Contacts.MaxRecent)

	// 推送事件触发Feed刷新
	dispatcher := push.NewDispatcher(
		func(ctx context.Context) error {
			return aggregator.Refresh(ctx)
		},
		nil,
	)

	subscriberConfig := push.DefaultSubscriberConfig(cfg.Push.URL, token)
	subscriberConfig.PingInterval = cfg.Push.PingInterval
	subscriberConfig.ReconnectInterval = cfg.Push.ReconnectInterval
	subscriberConfig.MaxReconnectTries = cfg.Push.MaxReconnectTries
	subscriber := push.NewSubscriber(subscriberConfig, dispatcher)
	subscriber.SetStateChangeHandler(func(oldState, newState push.SubscriberState) {
		fmt.Printf("📡 推送通道: %s -> %s\n", oldState, newState)
	})
	if err := subscriber.Connect(ctx); err != nil {
		log.Printf("推送通道连接失败（继续演示手动刷新）: %v", err)
	}
	defer subscriber.Close()

	// 1. 拉取好友列表
	fmt.Println("👥 拉取好友列表...")
	friends, err := client.Friends(ctx, false)
	if err != nil {
		log.Fatalf("拉取好友失败: %v", err)
	}
	for _, f := range friends {
		fmt.Printf("   - %s (%s)\n", f.Name, f.Email)
	}
	if len(friends) == 0 {
		log.Fatalf("没有可用好友，无法继续演示")
	}

	// 2. 通过发送表单发起位置请求
	fmt.Println("\n📤 向好友发起位置请求...")
	form := sendform.New(client, recent)
	form.SelectFriend(friends[0])
	form.SetMessage("Where are you?")

	request, err := form.SubmitRequest(ctx)
	if err != nil {
		log.Fatalf("发起位置请求失败: %v", err)
	}
	fmt.Printf("✅ 位置请求已创建: %s (token: %s)\n", request.ID, request.State.Token)

	// 3. 模拟对方携带token提交位置
	fmt.Println("\n📥 模拟对方提交位置...")
	answered, err := client.SendNotification(ctx, api.NotifyRequest{
		Token:    request.State.Token,
		Location: model.LatLng{Lat: 37.7833, Lng: -122.4167},
	})
	if err != nil {
		log.Fatalf("提交位置失败: %v", err)
	}
	fmt.Printf("✅ 位置已提交，会话complete=%v，事件数=%d\n",
		answered.Complete(), len(answered.Notifications))

	// 4. 刷新活动Feed
	fmt.Println("\n📋 刷新活动Feed...")
	outgoing, err := aggregator.ListOutgoing(ctx)
	if err != nil {
		log.Fatalf("拉取活动失败: %v", err)
	}
	for _, item := range outgoing {
		fmt.Printf("   [%s] %s - %s (complete=%v)\n",
			item.Icon, item.Name, item.Description, item.Complete)
	}

	// 5. 打开详情视图
	fmt.Println("\n🗺️  打开请求详情视图...")
	renderer := &geo.FakeRenderer{}
	detailConfig := detail.DefaultConfig(model.TypeRequest, request.ID, feed.Outgoing)
	detailConfig.Zoom = cfg.Map.DefaultZoom
	controller := detail.NewController(
		detailConfig,
		client,
		geo.StaticProvider{Location: model.LatLng{Lat: 37.7833, Lng: -122.4167}},
		renderer,
	)
	controller.SetStateChangeHandler(func(oldState, newState detail.State) {
		fmt.Printf("   状态: %s -> %s\n", oldState, newState)
	})
	if err := controller.Load(ctx); err != nil {
		log.Fatalf("加载详情失败: %v", err)
	}
	defer controller.Dispose()

	session := controller.Session()
	fmt.Printf("✅ 详情已加载: complete=%v, 标记数=%d\n",
		session.Complete(), len(controller.Markers()))

	fmt.Println("\n✅ 交换流程演示完成!")
}
