/*
Package ferry translates declarative configuration trees into imperative
backend operations, and reads backend state back into configuration trees.

A configuration tree is a set of nodes addressed by Identifiers such as
/vrf[blue]/route[10.0.0.0\/8]. Each node type is owned by one Writer,
which turns creates, updates and deletes of that type into backend calls,
and optionally one Reader, which assembles the type's current value from
the backend.

# Writing

Writers are registered once and frozen into a WriterRegistry:

	writers, err := ferry.NewWriterRegistryBuilder().
	    Add(ferry.NewWriter[VRF](ferry.Root("vrf"), vrfCustomizer{})).
	    AddAfter(ferry.NewWriter[Route](ferry.Root("route"), routeCustomizer{}), ferry.Root("vrf")).
	    Build()

A Committer applies a batch of modifications as one operation. Every
modification is validated before any backend call. Creates and updates
then run in writer order and deletes in reverse writer order. When a
writer fails, the applied modifications are reverted in reverse:

	committer := ferry.NewCommitter(writers, mappings)
	next, err := committer.Apply(ctx, current, ferry.Diff(current, desired))

A reverted operation returns *RevertSuccessError. A revert that itself
failed returns *RevertFailedError naming the modifications that remain
applied.

# Reading

Readers are composed into a ReaderRegistry that reads a node's own
attributes and merges every child reader into it. Readers of sibling
nodes can share one expensive backend dump through a DumpCacheManager
scoped to the operation's ReadContext.

# Startup and live configuration

An InitializerRegistry reconciles configuration from discovered state at
startup: it restores persisted mapping data, derives configuration from
what the backend already runs and overlays any persisted configuration.

A Feed then keeps the backend in step with a live document source:

	feed := ferry.NewFeed(ferry.NewFileWatcher("/etc/agent/config.yaml"), binder, committer).
	    Codec(ferry.YAMLCodec{}).
	    Baseline(initial).
	    Debounce(200 * time.Millisecond)

	if err := feed.Start(ctx); err != nil {
	    log.Fatal(err)
	}

Every received document is decoded, bound to typed node values, diffed
against the last committed tree and committed. A rejected document leaves
the previous tree in place.

# Observability

Operations emit capitan signals (see signals.go) and report to an optional
MetricsProvider. The pkg/zerolog and pkg/prometheus packages bridge them
to zerolog and Prometheus. Persistent MappingContext and Watcher
implementations live under pkg/.
*/
package ferry
