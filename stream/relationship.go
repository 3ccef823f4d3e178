package stream

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// RelationshipReconciler patches a previously-fetched relationship snapshot
// from follow-state-transition events.
//
// The event stream is not scoped per viewer, so transitions whose follower is
// not the local account are filtered out. A patch is only applied to a
// relationship that is already cached; relationships are created through the
// ordinary REST fetch path, never fabricated here.
//
// The patch is applied after a short fixed delay. The REST action that
// initiates a follow and the stream event announcing its completion race;
// applying the stream patch immediately can overwrite a more complete REST
// response arriving moments later. The delay is a mitigation, not a
// correctness guarantee.

type FollowTransitionState string

const (
	FollowStatePending  FollowTransitionState = "pending"
	FollowStateAccepted FollowTransitionState = "accepted"
	FollowStateRejected FollowTransitionState = "rejected"
)

type FollowTransition struct {
	State     FollowTransitionState `json:"state"`
	Follower  *Account              `json:"follower"`
	Following *Account              `json:"following"`
}

type RelationshipReconcilerSettings struct {
	PatchDelay time.Duration
}

func DefaultRelationshipReconcilerSettings() *RelationshipReconcilerSettings {
	return &RelationshipReconcilerSettings{
		PatchDelay: 300 * time.Millisecond,
	}
}

type RelationshipReconciler struct {
	ctx            context.Context
	cache          *EntityCache
	localAccountId string
	settings       *RelationshipReconcilerSettings
}

func NewRelationshipReconciler(
	ctx context.Context,
	cache *EntityCache,
	localAccountId string,
	settings *RelationshipReconcilerSettings,
) *RelationshipReconciler {
	return &RelationshipReconciler{
		ctx:            ctx,
		cache:          cache,
		localAccountId: localAccountId,
		settings:       settings,
	}
}

// FollowTransitionPatch maps a transition state to the relationship fields it
// implies. Returns false for an unrecognized state.
func FollowTransitionPatch(transition *FollowTransition) (*RelationshipPatch, bool) {
	if transition == nil || transition.Following == nil {
		return nil, false
	}
	patch := &RelationshipPatch{
		TargetAccountId: transition.Following.Id,
	}
	switch transition.State {
	case FollowStatePending:
		patch.Following = false
		patch.Requested = true
	case FollowStateAccepted:
		patch.Following = true
		patch.Requested = false
	case FollowStateRejected:
		patch.Following = false
		patch.Requested = false
	default:
		return nil, false
	}
	return patch, true
}

func (self *RelationshipReconciler) OnFollowTransition(transition *FollowTransition) {
	if transition == nil || transition.Follower == nil {
		return
	}
	if transition.Follower.Id != self.localAccountId || self.localAccountId == "" {
		// a foreign transition, not about the local account
		return
	}

	patch, ok := FollowTransitionPatch(transition)
	if !ok {
		glog.Infof("[rr]ignore transition state = %s\n", transition.State)
		return
	}

	go func() {
		select {
		case <-self.ctx.Done():
			// the engine was closed; do not patch torn-down state
			return
		case <-time.After(self.settings.PatchDelay):
		}
		self.apply(patch)
	}()
}

func (self *RelationshipReconciler) apply(patch *RelationshipPatch) {
	cached := self.cache.Relationship(patch.TargetAccountId)
	if cached == nil {
		// nothing to patch
		glog.V(2).Infof("[rr]no cached relationship for %s\n", patch.TargetAccountId)
		return
	}

	next := *cached
	next.Following = patch.Following
	next.Requested = patch.Requested
	self.cache.UpsertRelationship(&next)

	glog.V(2).Infof("[rr]patched %s following=%t requested=%t\n",
		patch.TargetAccountId, patch.Following, patch.Requested)
}
