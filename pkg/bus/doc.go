// Package bus provides the AMQP message fabric that connects the five guild
// agents and the operator CLI.
//
// # Overview
//
// Guild coordination happens over five durable topic exchanges on a RabbitMQ
// broker. Every message travels inside an Envelope that records when it was
// published, which role published it, and the routing key it was published
// under; the payload itself stays opaque to the bus.
//
// # Core Concepts
//
// Roles are the five fixed guild identities (master, journeyman, warden,
// reeve, chronicler). The topology gives each role one durable standing queue
// bound to the exchange it works from, plus an integration queue external
// tooling can drain.
//
// The Bus interface is implemented twice: Client speaks AMQP 0-9-1 to a live
// broker, and Offline is the stand-in selected when the broker cannot be
// reached. The Connect factory picks one of the two exactly once, at
// construction, so calling code never branches on connectivity.
//
// # Delivery Discipline
//
// Subscriptions use manual acknowledgement. A handler that returns nil acks
// the delivery; a handler error or an undecodable body nacks it without
// requeue, so a poisoned message can never loop.
//
// # Usage Example
//
//	cfg := bus.LoadConfig(ws.BusConfigFile(), logger)
//	b := bus.Connect(ctx, cfg, logger)
//	defer b.Close()
//
//	b.Subscribe("guild.reeve.audits", func(ctx context.Context, env bus.Envelope) error {
//		var update map[string]any
//		if err := env.Unmarshal(&update); err != nil {
//			return err
//		}
//		return audit(ctx, env.SourceRole, update)
//	})
//	b.StartConsuming(ctx, bus.ConsumeBlocking)
//
// # Design Principles
//
// - One connection attempt: no reconnection loops; offline mode is explicit
// - Determinism when disconnected: publish and subscribe answer false immediately
// - Immutable envelopes: enrichment happens once, at publish time
// - Idempotent shutdown: Close is safe at any time, any number of times
package bus
