package tracker

import (
	"context"

	"github.com/goliatone/go-tracker/pkg/activity"
)

// WithActivityEmitter turns entity lifecycle changes into activity events
// stamped with identity. A disabled emitter is ignored.
func WithActivityEmitter(emitter *activity.Emitter, identity activity.Identity) ManagerOption {
	return func(em *EntityManager) {
		em.activityEmitter = emitter
		em.activityIdentity = identity
	}
}

func (em *EntityManager) emitEntityActivity(args EntityChangedArgs) {
	if args.Entity == nil || em.isLoading {
		return
	}
	var event activity.Event
	switch args.Action {
	case ActionAttach:
		event = em.activityEvent(activity.VerbEntityAttached, args.Entity)
	case ActionPropertyChange:
		event = em.activityEvent(activity.VerbEntityModified, args.Entity)
		if pc, ok := args.Args.(PropertyChangedArgs); ok {
			event = event.WithChange(pc.PropertyName, activityValue(pc.OldValue), activityValue(pc.NewValue))
		}
	case ActionEntityStateChange:
		if !args.Entity.EntityAspect().state.IsDeleted() {
			return
		}
		event = em.activityEvent(activity.VerbEntityDeleted, args.Entity)
	case ActionDetach:
		event = em.activityEvent(activity.VerbEntityDetached, args.Entity)
	case ActionRejectChanges:
		event = em.activityEvent(activity.VerbEntityRejected, args.Entity)
	default:
		return
	}
	em.emitActivity(context.Background(), event)
}

func (em *EntityManager) emitSavedActivity(ctx context.Context, entities []Entity) {
	if !em.activityEmitter.Enabled() {
		return
	}
	for _, e := range entities {
		em.emitActivity(ctx, em.activityEvent(activity.VerbEntitySaved, e))
	}
}

func (em *EntityManager) emitActivity(ctx context.Context, event activity.Event) {
	if err := em.activityEmitter.Emit(ctx, event); err != nil {
		em.logger.Log(LogEvent{Kind: LogSave, EntityType: event.EntityType, Key: event.EntityKey, Err: err, Fields: map[string]any{"verb": event.Verb}})
	}
}

func (em *EntityManager) activityEvent(verb string, e Entity) activity.Event {
	aspect := e.EntityAspect()
	return activity.NewEvent(verb, e.EntityType().Name, aspect.GetKey().String(), aspect.state.String()).
		WithIdentity(em.activityIdentity)
}

// activityValue drops entity references; events carry plain values only.
func activityValue(v any) any {
	if _, ok := v.(Entity); ok {
		return nil
	}
	return snapshotValue(v)
}
