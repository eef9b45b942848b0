package geo

import (
	"context"
	"fmt"
	"sync"

	"GoLocShare/internal/model"
)

// LocationError 定位不可用或被拒绝
type LocationError struct {
	Message string
}

func (e *LocationError) Error() string {
	return fmt.Sprintf("location: %s", e.Message)
}

// Provider 定位服务协作方
type Provider interface {
	CurrentLocation(ctx context.Context) (model.LatLng, error)
}

// StaticProvider 固定坐标的Provider（测试和演示用）
type StaticProvider struct {
	Location model.LatLng
	Err      error
}

func (p StaticProvider) CurrentLocation(ctx context.Context) (model.LatLng, error) {
	if p.Err != nil {
		return model.LatLng{}, p.Err
	}
	return p.Location, nil
}

// MapHandle 地图实例句柄
type MapHandle interface {
	Center() model.LatLng
}

// MarkerHandle 地图标记句柄
type MarkerHandle interface {
	Position() model.LatLng
	LowPrecision() bool
}

// Renderer 地图渲染协作方
type Renderer interface {
	CreateMap(containerID string, center model.LatLng, zoom int) MapHandle
	CreateMarker(m MapHandle, position model.LatLng, index int, lowPrecision bool) MarkerHandle
	ClearMarkers(markers []MarkerHandle)
}

// FakeMap 记录型地图实现
type FakeMap struct {
	ContainerID string
	MapCenter   model.LatLng
	Zoom        int
}

func (m *FakeMap) Center() model.LatLng { return m.MapCenter }

// FakeMarker 记录型标记实现
type FakeMarker struct {
	Pos     model.LatLng
	Index   int
	IsWeb   bool
	Cleared bool
}

func (m *FakeMarker) Position() model.LatLng { return m.Pos }
func (m *FakeMarker) LowPrecision() bool     { return m.IsWeb }

// FakeRenderer 记录所有渲染调用的Renderer，供测试断言和演示输出
type FakeRenderer struct {
	mu      sync.Mutex
	Maps    []*FakeMap
	Markers []*FakeMarker
}

func (r *FakeRenderer) CreateMap(containerID string, center model.LatLng, zoom int) MapHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := &FakeMap{ContainerID: containerID, MapCenter: center, Zoom: zoom}
	r.Maps = append(r.Maps, m)
	return m
}

func (r *FakeRenderer) CreateMarker(m MapHandle, position model.LatLng, index int, lowPrecision bool) MarkerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	marker := &FakeMarker{Pos: position, Index: index, IsWeb: lowPrecision}
	r.Markers = append(r.Markers, marker)
	return marker
}

func (r *FakeRenderer) ClearMarkers(markers []MarkerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range markers {
		if fm, ok := h.(*FakeMarker); ok {
			fm.Cleared = true
		}
	}
}

// LastMap 最近创建的地图，没有则返回nil
func (r *FakeRenderer) LastMap() *FakeMap {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Maps) == 0 {
		return nil
	}
	return r.Maps[len(r.Maps)-1]
}
