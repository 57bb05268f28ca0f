// Package session defines the per-chat conversation document and its defaults.
package session

import (
	"sort"
	"time"

	"github.com/m3rciful/dispatchbot/core/telegram/state"
	"github.com/m3rciful/dispatchbot/core/telegram/ui"
	"github.com/m3rciful/dispatchbot/internal/domain"
)

// Document is the persisted conversation state for one scope.
type Document struct {
	EphemeralMessages []int   `json:"ephemeralMessages"`
	IsAuthenticated   bool    `json:"isAuthenticated"`
	AwaitingPhone     bool    `json:"awaitingPhone"`
	PhoneNumber       *string `json:"phoneNumber,omitempty"`
	City              *string `json:"city,omitempty"`

	Executor     ExecutorFlowState `json:"executor"`
	Client       ClientState       `json:"client"`
	UI           UIState           `json:"ui"`
	Support      SupportState      `json:"support"`
	AuthSnapshot *AuthSnapshot     `json:"authSnapshot,omitempty"`
}

// Verification statuses kept in the session.
const (
	VerificationIdle       = "idle"
	VerificationCollecting = "collecting"
	VerificationSubmitted  = "submitted"
)

// Subscription statuses kept in the session.
const (
	SubscriptionIdle              = "idle"
	SubscriptionSelectingPeriod   = "selectingPeriod"
	SubscriptionAwaitingReceipt   = "awaitingReceipt"
	SubscriptionPendingModeration = "pendingModeration"
)

// Role selection stages.
const (
	StageRole         = "role"
	StageExecutorKind = "executorKind"
	StageCity         = "city"
)

// ExecutorFlowState tracks role selection, verification and subscription purchase.
type ExecutorFlowState struct {
	Role                  *domain.ExecutorRole                           `json:"role,omitempty"`
	Verification          map[domain.ExecutorRole]*VerificationRoleState `json:"verification"`
	Subscription          SubscriptionState                              `json:"subscription"`
	AwaitingRoleSelection *bool                                          `json:"awaitingRoleSelection,omitempty"`
	RoleSelectionStage    *string                                        `json:"roleSelectionStage,omitempty"`
}

// CurrentRole returns the chosen executor role.
func (e *ExecutorFlowState) CurrentRole() (domain.ExecutorRole, bool) {
	if e.Role == nil {
		return "", false
	}
	return *e.Role, true
}

// SetRole records the chosen executor role.
func (e *ExecutorFlowState) SetRole(r domain.ExecutorRole) {
	role := r
	e.Role = &role
}

// AwaitingRole reports whether a role pick is pending.
func (e *ExecutorFlowState) AwaitingRole() bool {
	return e.AwaitingRoleSelection != nil && *e.AwaitingRoleSelection
}

// SetAwaitingRole sets or clears the pending role pick and its stage.
func (e *ExecutorFlowState) SetAwaitingRole(awaiting bool, stage string) {
	if !awaiting {
		e.AwaitingRoleSelection = nil
		e.RoleSelectionStage = nil
		return
	}
	v := true
	e.AwaitingRoleSelection = &v
	if stage == "" {
		e.RoleSelectionStage = nil
		return
	}
	s := stage
	e.RoleSelectionStage = &s
}

// Stage returns the role selection stage or "".
func (e *ExecutorFlowState) Stage() string {
	if e.RoleSelectionStage == nil {
		return ""
	}
	return *e.RoleSelectionStage
}

// VerificationFor returns the state for role, creating it when missing.
func (e *ExecutorFlowState) VerificationFor(role domain.ExecutorRole) *VerificationRoleState {
	if e.Verification == nil {
		e.Verification = map[domain.ExecutorRole]*VerificationRoleState{}
	}
	v, ok := e.Verification[role]
	if !ok || v == nil {
		v = NewVerificationRoleState(0)
		e.Verification[role] = v
	}
	v.normalize()
	return v
}

// Photo is one uploaded verification document.
type Photo struct {
	FileID       string `json:"fileId"`
	MessageID    int    `json:"messageId"`
	FileUniqueID string `json:"fileUniqueId,omitempty"`
}

// ModerationRef points at the moderation message for an application.
type ModerationRef struct {
	ApplicationID int64  `json:"applicationId"`
	ChatID        int64  `json:"chatId"`
	MessageID     int    `json:"messageId"`
	Token         string `json:"token"`
}

// VerificationRoleState is the verification progress of one executor role.
type VerificationRoleState struct {
	Status         string         `json:"status"`
	RequiredPhotos int            `json:"requiredPhotos"`
	UploadedPhotos []Photo        `json:"uploadedPhotos"`
	SubmittedAt    *time.Time     `json:"submittedAt,omitempty"`
	Moderation     *ModerationRef `json:"moderation,omitempty"`
	LastReminderAt *time.Time     `json:"lastReminderAt,omitempty"`
}

// NewVerificationRoleState returns an idle state requiring required photos.
func NewVerificationRoleState(required int) *VerificationRoleState {
	v := &VerificationRoleState{RequiredPhotos: required}
	v.normalize()
	return v
}

func (v *VerificationRoleState) normalize() {
	switch v.Status {
	case VerificationIdle, VerificationCollecting, VerificationSubmitted:
	default:
		v.Status = VerificationIdle
	}
	if v.UploadedPhotos == nil {
		v.UploadedPhotos = []Photo{}
	}
}

// HasPhoto reports whether p duplicates an uploaded photo by unique id or message id.
func (v *VerificationRoleState) HasPhoto(p Photo) bool {
	for _, existing := range v.UploadedPhotos {
		if p.FileUniqueID != "" && existing.FileUniqueID == p.FileUniqueID {
			return true
		}
		if existing.MessageID == p.MessageID {
			return true
		}
	}
	return false
}

// Complete reports whether the required number of photos has been collected.
func (v *VerificationRoleState) Complete() bool {
	return v.RequiredPhotos > 0 && len(v.UploadedPhotos) >= v.RequiredPhotos
}

// AddPhoto appends p unless it is a duplicate or the set is already complete,
// and keeps photos ordered by message id.
func (v *VerificationRoleState) AddPhoto(p Photo) bool {
	if v.HasPhoto(p) || v.Complete() {
		return false
	}
	v.UploadedPhotos = append(v.UploadedPhotos, p)
	sort.SliceStable(v.UploadedPhotos, func(i, j int) bool {
		return v.UploadedPhotos[i].MessageID < v.UploadedPhotos[j].MessageID
	})
	return true
}

// Reset returns the role to idle and drops uploaded photos.
// Submission history (submittedAt, moderation) is kept.
func (v *VerificationRoleState) Reset() {
	v.Status = VerificationIdle
	v.UploadedPhotos = []Photo{}
	v.LastReminderAt = nil
}

// SubscriptionState tracks a subscription purchase.
type SubscriptionState struct {
	Status              string     `json:"status"`
	SelectedPeriodID    *string    `json:"selectedPeriodId,omitempty"`
	PendingPaymentID    *int64     `json:"pendingPaymentId,omitempty"`
	ModerationChatID    *int64     `json:"moderationChatId,omitempty"`
	ModerationMessageID *int       `json:"moderationMessageId,omitempty"`
	LastInviteLink      *string    `json:"lastInviteLink,omitempty"`
	LastIssuedAt        *time.Time `json:"lastIssuedAt,omitempty"`
	LastReminderAt      *time.Time `json:"lastReminderAt,omitempty"`
}

func (s *SubscriptionState) normalize() {
	switch s.Status {
	case SubscriptionIdle, SubscriptionSelectingPeriod:
		s.SelectedPeriodID = nil
	case SubscriptionAwaitingReceipt, SubscriptionPendingModeration:
		if s.SelectedPeriodID == nil {
			s.ResetPurchase()
		}
	default:
		s.ResetPurchase()
	}
}

// ResetPurchase returns to idle, dropping in-flight purchase fields.
// Issued invite link data survives.
func (s *SubscriptionState) ResetPurchase() {
	s.Status = SubscriptionIdle
	s.SelectedPeriodID = nil
	s.PendingPaymentID = nil
	s.ModerationChatID = nil
	s.ModerationMessageID = nil
}

// Order draft stages.
const (
	DraftIdle    = "idle"
	DraftPickup  = "pickup"
	DraftDropoff = "dropoff"
	DraftWhen    = "when"
	DraftComment = "comment"
	DraftConfirm = "confirm"
)

// OrderDraftState is a client order being composed.
type OrderDraftState struct {
	Stage   string     `json:"stage"`
	Pickup  *string    `json:"pickup,omitempty"`
	Dropoff *string    `json:"dropoff,omitempty"`
	When    *time.Time `json:"when,omitempty"`
	ASAP    bool       `json:"asap,omitempty"`
	Comment *string    `json:"comment,omitempty"`
}

// Active reports whether the draft is past idle.
func (o *OrderDraftState) Active() bool {
	return o.Stage != "" && o.Stage != DraftIdle
}

// Reset clears the draft.
func (o *OrderDraftState) Reset() {
	*o = OrderDraftState{Stage: DraftIdle}
}

func (o *OrderDraftState) normalize() {
	switch o.Stage {
	case DraftIdle, DraftPickup, DraftDropoff, DraftWhen, DraftComment, DraftConfirm:
	default:
		o.Reset()
	}
}

// ClientState holds the client's order drafts.
type ClientState struct {
	Taxi     OrderDraftState `json:"taxi"`
	Delivery OrderDraftState `json:"delivery"`
}

// Draft returns the draft for kind.
func (c *ClientState) Draft(kind domain.OrderKind) *OrderDraftState {
	if kind == domain.OrderDelivery {
		return &c.Delivery
	}
	return &c.Taxi
}

// Pending city actions: what to continue with once a city is picked.
const (
	CityActionExecutor = "executor"
	CityActionTaxi     = "taxi"
	CityActionDelivery = "delivery"
)

// UIState extends the step tracker state with the pending city action.
type UIState struct {
	ui.State
	PendingCityAction *string `json:"pendingCityAction,omitempty"`
}

// Support statuses.
const (
	SupportIdle            = "idle"
	SupportAwaitingMessage = "awaiting_message"
)

// SupportState tracks the support conversation.
type SupportState struct {
	Status            string  `json:"status"`
	LastThreadID      *int64  `json:"lastThreadId,omitempty"`
	LastThreadShortID *string `json:"lastThreadShortId,omitempty"`
}

// AuthSnapshot caches the last resolved authorization for outages.
type AuthSnapshot struct {
	Role                  domain.Role                  `json:"role"`
	VerifiedRoles         map[domain.ExecutorRole]bool `json:"verifiedRoles"`
	HasActiveSubscription bool                         `json:"hasActiveSubscription"`
	IsModerator           bool                         `json:"isModerator"`
	PhoneVerified         bool                         `json:"phoneVerified"`
	CapturedAt            time.Time                    `json:"capturedAt"`
}

// New returns the default document with every sub-state idle.
func New() *Document {
	d := &Document{}
	Normalize(d)
	return d
}

// Normalize backfills missing sub-states with defaults. It is deterministic and
// idempotent so repeated loads of an old document converge on the same bytes.
func Normalize(d *Document) {
	if d.EphemeralMessages == nil {
		d.EphemeralMessages = []int{}
	}

	if d.Executor.Verification == nil {
		d.Executor.Verification = map[domain.ExecutorRole]*VerificationRoleState{}
	}
	for role, v := range d.Executor.Verification {
		if _, ok := domain.ParseExecutorRole(string(role)); !ok {
			delete(d.Executor.Verification, role)
			continue
		}
		if v == nil {
			v = NewVerificationRoleState(0)
			d.Executor.Verification[role] = v
		}
		v.normalize()
	}
	if d.Executor.Role != nil {
		if r, ok := domain.ParseExecutorRole(string(*d.Executor.Role)); ok {
			d.Executor.SetRole(r)
		} else {
			d.Executor.Role = nil
		}
	}
	if d.Executor.AwaitingRoleSelection != nil && !*d.Executor.AwaitingRoleSelection {
		d.Executor.AwaitingRoleSelection = nil
	}
	d.Executor.Subscription.normalize()

	d.Client.Taxi.normalize()
	d.Client.Delivery.normalize()

	d.UI.State.Normalize()

	switch d.Support.Status {
	case SupportIdle, SupportAwaitingMessage:
	default:
		d.Support.Status = SupportIdle
	}

	if d.AuthSnapshot != nil {
		d.AuthSnapshot.Role = domain.NormalizeRole(string(d.AuthSnapshot.Role))
		if d.AuthSnapshot.VerifiedRoles == nil {
			d.AuthSnapshot.VerifiedRoles = map[domain.ExecutorRole]bool{}
		}
	}
}

// Manager is the state manager specialised for Document.
type Manager = state.Manager[Document]

// Session is the per-update handle on a Document.
type Session = state.Session[Document]

// NewManager builds a Manager over store with an optional fallback cache.
func NewManager(store state.Store, cache state.Cache, limits state.Limits) (*Manager, error) {
	return state.NewManager(state.Options[Document]{
		Limits:    limits,
		Store:     store,
		Cache:     cache,
		New:       func() *Document { return &Document{} },
		Normalize: Normalize,
	})
}
