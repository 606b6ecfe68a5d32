package testing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/ferry"
)

var ifaceType = ferry.Root("iface")

type iface struct {
	MTU int `json:"mtu"`
}

func mtuBinder() ferry.Binder {
	return ferry.NewTypeBinder().Handle(ifaceType, ferry.BindJSON[iface]())
}

func TestWaitFor(t *testing.T) {
	t.Run("condition met immediately", func(t *testing.T) {
		result := WaitFor(t, 100*time.Millisecond, func() bool {
			return true
		})
		if !result {
			t.Error("expected WaitFor to return true")
		}
	})

	t.Run("condition never met", func(t *testing.T) {
		result := WaitFor(t, 50*time.Millisecond, func() bool {
			return false
		})
		if result {
			t.Error("expected WaitFor to return false on timeout")
		}
	})

	t.Run("condition met after delay", func(t *testing.T) {
		var met atomic.Bool
		go func() {
			time.Sleep(30 * time.Millisecond)
			met.Store(true)
		}()
		if !WaitFor(t, 200*time.Millisecond, met.Load) {
			t.Error("expected WaitFor to return true")
		}
	})
}

func TestBackend_RecordsAndStores(t *testing.T) {
	ctx := context.Background()
	b := NewBackend[int]()
	id := ferry.RootKeyed("iface", "eth0")

	_ = b.WriteCurrentAttributes(ctx, id, 1500, nil)
	_ = b.UpdateCurrentAttributes(ctx, id, 1500, 9000, nil)
	if v, ok := b.Get(id); !ok || v != 9000 {
		t.Errorf("expected 9000, got %d", v)
	}
	_ = b.DeleteCurrentAttributes(ctx, id, 9000, nil)
	if b.Len() != 0 {
		t.Errorf("expected empty backend, got %d", b.Len())
	}
	RequireCalls(t, b, "create /iface[eth0]", "update /iface[eth0]", "delete /iface[eth0]")
}

func TestBackend_FailOn(t *testing.T) {
	b := NewBackend[int]()
	id := ferry.Root("iface")
	want := errors.New("refused")
	b.FailOn(ferry.OpCreate, id, want)

	if err := b.WriteCurrentAttributes(context.Background(), id, 1, nil); !errors.Is(err, want) {
		t.Errorf("expected injected failure, got %v", err)
	}
	if b.Len() != 0 {
		t.Error("expected failed write not stored")
	}
	b.Reset()
	if err := b.WriteCurrentAttributes(context.Background(), id, 1, nil); err != nil {
		t.Errorf("expected failures cleared, got %v", err)
	}
}

func TestCountingDump(t *testing.T) {
	c := NewCountingDump[int, struct{}](ferry.DumpExecutorFunc[int, struct{}](
		func(context.Context, ferry.Identifier, struct{}) (int, bool, error) {
			return 7, true, nil
		},
	))
	m := ferry.NewDumpCacheManager[int, struct{}]("count", c)
	cache := ferry.NewModificationCache()
	for i := 0; i < 3; i++ {
		_, _, _ = m.GetDump(context.Background(), ferry.Root("x"), cache, struct{}{})
	}
	if c.Count() != 1 {
		t.Errorf("expected 1 execution, got %d", c.Count())
	}
}

func TestNewTestFeed(t *testing.T) {
	ctx := context.Background()
	backend := NewBackend[iface]()
	writers := MustBuild(t, ferry.NewWriterRegistryBuilder().Add(ferry.NewWriter[iface](ifaceType, backend)))
	feed, ch := NewTestFeed(t, writers, mtuBinder())

	ch <- JSONDocument(t, Node(ferry.RootKeyed("iface", "eth0"), map[string]any{"mtu": 1500}))
	if err := feed.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	RequireState(t, feed, ferry.StateHealthy)

	ch <- JSONDocument(t, Node(ferry.RootKeyed("iface", "eth0"), map[string]any{"mtu": 9000}))
	if !feed.Process(ctx) {
		t.Fatal("expected a document to process")
	}
	if v, _ := backend.Get(ferry.RootKeyed("iface", "eth0")); v.MTU != 9000 {
		t.Errorf("expected 9000, got %d", v.MTU)
	}
	RequireCalls(t, backend, "create /iface[eth0]", "update /iface[eth0]")
}

func TestRequireNode(t *testing.T) {
	ctx := context.Background()
	backend := NewBackend[map[string]any]()
	writers := MustBuild(t, ferry.NewWriterRegistryBuilder().Add(ferry.NewWriter[map[string]any](ifaceType, backend)))
	binder := ferry.BinderFunc(func(_ ferry.Identifier, fields map[string]any) (ferry.DataObject, error) {
		return fields, nil
	})
	feed, ch := NewTestFeed(t, writers, binder)

	ch <- JSONDocument(t, Node(ferry.RootKeyed("iface", "eth0"), map[string]any{"mtu": 1500}))
	if err := feed.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	RequireState(t, feed, ferry.StateHealthy)
	RequireNode(t, feed, ferry.RootKeyed("iface", "eth0"), func(v ferry.DataObject) bool {
		return v.(map[string]any)["mtu"] == float64(1500)
	})
	RequireCalls(t, backend, "create /iface[eth0]")
	if !WaitForState(t, feed, ferry.StateHealthy, 10*time.Millisecond) {
		t.Error("expected healthy")
	}
}
