package ferry

import (
	"context"
	"errors"
	"strconv"
	"testing"
)

var mtuType = Root("mtu")

func mtuInitializer(_ context.Context, _ Identifier, operational DataObject, _ *ReadContext) ([]Initialized, error) {
	iface := operational.(ifaceNode)
	return []Initialized{{ID: RootKeyed("mtu", iface.Name), Data: strconv.Itoa(iface.MTU)}}, nil
}

type restorers struct {
	mappings []MappingEntry
	entries  []Entry
	ctxErr   error
	cfgErr   error
	order    *[]string
}

func (r restorers) RestoreContext(ctx context.Context, mc MappingContext) error {
	if r.order != nil {
		*r.order = append(*r.order, "context")
	}
	if r.ctxErr != nil {
		return r.ctxErr
	}
	return RestoreMappings(ctx, mc, r.mappings)
}

func (r restorers) RestoreConfig(context.Context) ([]Entry, error) {
	if r.order != nil {
		*r.order = append(*r.order, "config")
	}
	return r.entries, r.cfgErr
}

func newTestInitializer(t *testing.T, log *callLog) *InitializerRegistry {
	t.Helper()
	writers := mustRegistry(NewWriterRegistryBuilder().Add(newStringWriter(mtuType, log, nil)))
	return NewInitializerRegistry(newDeviceReaders(t, newDevice()), NewCommitter(writers, nil))
}

func TestInitializerRegistry_DerivesConfiguration(t *testing.T) {
	log := &callLog{}
	r := newTestInitializer(t, log).Register(interfaceType, mtuInitializer)

	state, err := r.Initialize(context.Background())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if state.Len() != 2 {
		t.Fatalf("expected 2 nodes, got %d", state.Len())
	}
	if v, _, _ := state.Read(context.Background(), RootKeyed("mtu", "eth1")); v != "9000" {
		t.Errorf("expected 9000, got %v", v)
	}
	if want := []string{"create /mtu[eth0]", "create /mtu[eth1]"}; !equalStrings(log.all(), want) {
		t.Errorf("expected %v, got %v", want, log.all())
	}
}

func TestInitializerRegistry_RunsOnce(t *testing.T) {
	r := newTestInitializer(t, &callLog{})
	if _, err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := r.Initialize(context.Background()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestInitializerRegistry_RestoresContextFirst(t *testing.T) {
	var order []string
	var seen string
	r := newTestInitializer(t, &callLog{}).
		ContextRestorer(restorers{
			mappings: []MappingEntry{{ID: Root("marker"), Value: "restored"}},
			order:    &order,
		}).
		ConfigRestorer(restorers{order: &order}).
		Register(interfaceType, func(ctx context.Context, id Identifier, op DataObject, rc *ReadContext) ([]Initialized, error) {
			if len(order) == 1 {
				order = append(order, "initializer")
			}
			seen, _, _ = rc.MappingContext().Read(ctx, Root("marker"))
			return mtuInitializer(ctx, id, op, rc)
		})

	if _, err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if want := []string{"context", "initializer", "config"}; !equalStrings(order, want) {
		t.Errorf("expected %v, got %v", want, order)
	}
	if seen != "restored" {
		t.Errorf("expected initializers to see restored mappings, got %q", seen)
	}
}

func TestInitializerRegistry_ConfigOverlaysDerived(t *testing.T) {
	log := &callLog{}
	r := newTestInitializer(t, log).
		Register(interfaceType, mtuInitializer).
		ConfigRestorer(restorers{entries: []Entry{
			{ID: RootKeyed("mtu", "eth0"), Data: "1400"},
			{ID: RootKeyed("mtu", "eth1"), Data: "9000"},
		}})

	state, err := r.Initialize(context.Background())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if v, _, _ := state.Read(context.Background(), RootKeyed("mtu", "eth0")); v != "1400" {
		t.Errorf("expected persisted value to win, got %v", v)
	}
	want := []string{"create /mtu[eth0]", "create /mtu[eth1]", "update /mtu[eth0]"}
	if !equalStrings(log.all(), want) {
		t.Errorf("expected %v, got %v", want, log.all())
	}
}

func TestInitializerRegistry_ContinuesAfterFailure(t *testing.T) {
	log := &callLog{}
	broken := errors.New("cannot derive")
	r := newTestInitializer(t, log).
		ContextRestorer(restorers{ctxErr: errBackend}).
		Register(interfaceType, func(context.Context, Identifier, DataObject, *ReadContext) ([]Initialized, error) {
			return nil, broken
		}).
		ConfigRestorer(restorers{entries: []Entry{{ID: RootKeyed("mtu", "eth0"), Data: "1400"}}})

	state, err := r.Initialize(context.Background())
	var initErr *InitFailedError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected InitFailedError, got %v", err)
	}
	if len(initErr.Steps) != 2 || initErr.Steps[0] != StepRestoreContext || initErr.Steps[1] != interfaceType.String() {
		t.Errorf("unexpected failed steps %v", initErr.Steps)
	}
	if !errors.Is(err, broken) || !errors.Is(err, errBackend) {
		t.Error("expected both causes in chain")
	}
	if state == nil || state.Len() != 1 {
		t.Fatalf("expected config restore to still run, got %v", state)
	}
	if want := []string{"create /mtu[eth0]"}; !equalStrings(log.all(), want) {
		t.Errorf("expected %v, got %v", want, log.all())
	}
}

func TestInitializerRegistry_SkipRestores(t *testing.T) {
	var order []string
	r := newTestInitializer(t, &callLog{}).
		ContextRestorer(restorers{order: &order}).
		ConfigRestorer(restorers{order: &order}).
		Configure(InitConfig{SkipContextRestore: true, SkipConfigRestore: true})

	if _, err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if len(order) != 0 {
		t.Errorf("expected restores skipped, got %v", order)
	}
}

func TestInitializerRegistry_MissingReaderFailsStep(t *testing.T) {
	r := newTestInitializer(t, &callLog{}).Register(Root("routes"), mtuInitializer)

	_, err := r.Initialize(context.Background())
	if !errors.Is(err, ErrMissingReader) {
		t.Errorf("expected ErrMissingReader, got %v", err)
	}
}
