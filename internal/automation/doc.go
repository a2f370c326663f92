// Package automation provides the rule engine for Homeflow.
//
// Three kinds of automation share one registry and one persistence table:
// rules (condition → actions, evaluated on device state changes), routines
// (triggers → actions) and scenarios (actions run on demand).
//
// Architecture:
//
//	 device.state_changed ──▶ Engine (engine.go)
//	                            │  Evaluate (condition.go), edge/level policy
//	                            │  cron + solar timers, location, voice
//	                            ▼
//	 Registry (registry.go) ◀── CRUD ── API
//	   │ cache + validation
//	   ▼
//	 Repository (repository.go) ── automations, automation_runs
//
//	 Engine ──Submit──▶ Executor (executor.go) ──Apply──▶ device.Store
//	                      per-device FIFO lanes, cancellable delays
//
// # Key Types
//
//   - Condition: Leaf comparison or and/or group, evaluated fail-closed
//   - Rule, Routine, Scenario: The three automation kinds
//   - Executor: Ordered, cancellable action runner
//   - Engine: Rule state machine and trigger wiring
//   - Inbox: Time-limited store for suggestion drafts
//
// # Thread Safety
//
// Registry, Executor, Engine and Inbox are safe for concurrent use.
// Evaluate is a pure function.
//
// # Usage
//
//	registry := automation.NewRegistry(automation.NewSQLiteRepository(db), store)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	exec := automation.NewExecutor(store, bus, nil, log)
//	defer exec.Close()
//
//	engine := automation.NewEngine(automation.EngineConfig{
//	    FiringPolicy: automation.PolicyEdge,
//	    Location:     cfg.Location(),
//	}, registry, exec, store, bus, nil, log)
//	if err := engine.Start(ctx); err != nil {
//	    return err
//	}
//	defer engine.Stop()
package automation
