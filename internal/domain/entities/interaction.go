package entities

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// InteractionAction represents a kind of user interaction with a business
type InteractionAction string

const (
	ActionView             InteractionAction = "view"
	ActionClick            InteractionAction = "click"
	ActionSearchClick      InteractionAction = "search_click"
	ActionPhoneCall        InteractionAction = "phone_call"
	ActionFavorite         InteractionAction = "favorite"
	ActionUnfavorite       InteractionAction = "unfavorite"
	ActionReview           InteractionAction = "review"
	ActionShare            InteractionAction = "share"
	ActionCollectionAdd    InteractionAction = "collection_add"
	ActionCollectionRemove InteractionAction = "collection_remove"
	ActionOfferView        InteractionAction = "offer_view"
	ActionOfferUse         InteractionAction = "offer_use"
	ActionDirectionRequest InteractionAction = "direction_request"
	ActionWebsiteClick     InteractionAction = "website_click"
)

var knownActions = map[InteractionAction]struct{}{
	ActionView: {}, ActionClick: {}, ActionSearchClick: {}, ActionPhoneCall: {},
	ActionFavorite: {}, ActionUnfavorite: {}, ActionReview: {}, ActionShare: {},
	ActionCollectionAdd: {}, ActionCollectionRemove: {}, ActionOfferView: {},
	ActionOfferUse: {}, ActionDirectionRequest: {}, ActionWebsiteClick: {},
}

// DefaultHighPriorityActions are sent individually as soon as they are tracked
var DefaultHighPriorityActions = []InteractionAction{
	ActionPhoneCall,
	ActionOfferUse,
	ActionReview,
	ActionCollectionAdd,
}

// IsKnown reports whether the action is one the API accepts
func (a InteractionAction) IsKnown() bool {
	_, ok := knownActions[a]
	return ok
}

// ParseInteractionAction parses a case-insensitive action name
func ParseInteractionAction(s string) (InteractionAction, error) {
	action := InteractionAction(strings.ToLower(strings.TrimSpace(s)))
	if !action.IsKnown() {
		return "", fmt.Errorf("unknown interaction action %q", s)
	}
	return action, nil
}

// InteractionEvent is one tracked interaction waiting for delivery
type InteractionEvent struct {
	BusinessID int64                  `json:"business_id"`
	Action     InteractionAction      `json:"action"`
	Context    map[string]interface{} `json:"context"`
	Timestamp  int64                  `json:"timestamp"`
}

// NewInteractionEvent builds an event stamped at now
func NewInteractionEvent(businessID int64, action InteractionAction, context map[string]interface{}, now time.Time) InteractionEvent {
	if context == nil {
		context = map[string]interface{}{}
	}
	return InteractionEvent{
		BusinessID: businessID,
		Action:     action,
		Context:    context,
		Timestamp:  now.UnixMilli(),
	}
}

// Validate checks the fields every delivered event must carry
func (e InteractionEvent) Validate() error {
	switch {
	case e.BusinessID <= 0:
		return fmt.Errorf("business_id must be positive, got %d", e.BusinessID)
	case e.Action == "":
		return fmt.Errorf("action is required")
	case e.Timestamp <= 0:
		return fmt.Errorf("timestamp must be positive, got %d", e.Timestamp)
	}
	return nil
}

// SessionID returns the session id recorded in the event context, if any
func (e InteractionEvent) SessionID() string {
	if e.Context == nil {
		return ""
	}
	if id, ok := e.Context[ContextKeySessionID].(string); ok {
		return id
	}
	return ""
}

// SameAs reports whether two events describe the same interaction. Persisted events are
// compared by value, so two copies decoded from storage still match.
func (e InteractionEvent) SameAs(other InteractionEvent) bool {
	return e.BusinessID == other.BusinessID &&
		e.Action == other.Action &&
		e.Timestamp == other.Timestamp &&
		e.SessionID() == other.SessionID()
}

// ParseBusinessID accepts integer kinds, integral floats, json.Number and numeric strings.
// It returns false for anything that is not a positive integer.
func ParseBusinessID(value interface{}) (int64, bool) {
	var id int64
	switch v := value.(type) {
	case nil:
		return 0, false
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		id = parsed
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, false
		}
		id = parsed
	default:
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			id = rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			u := rv.Uint()
			if u > math.MaxInt64 {
				return 0, false
			}
			id = int64(u)
		case reflect.Float32, reflect.Float64:
			f := rv.Float()
			if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f >= math.MaxInt64 {
				return 0, false
			}
			id = int64(f)
		default:
			return 0, false
		}
	}
	if id <= 0 {
		return 0, false
	}
	return id, true
}

// InteractionPayload is the body of a single-interaction POST
type InteractionPayload struct {
	BusinessID    int64                  `json:"business_id"`
	Action        InteractionAction      `json:"action"`
	Context       map[string]interface{} `json:"context"`
	Timestamp     int64                  `json:"timestamp"`
	UserLatitude  float64                `json:"user_latitude"`
	UserLongitude float64                `json:"user_longitude"`
	Source        string                 `json:"source"`
}

// NewInteractionPayload flattens an event with the payload-level fields
func NewInteractionPayload(event InteractionEvent, coords Coordinates, source string) InteractionPayload {
	return InteractionPayload{
		BusinessID:    event.BusinessID,
		Action:        event.Action,
		Context:       event.Context,
		Timestamp:     event.Timestamp,
		UserLatitude:  coords.Latitude,
		UserLongitude: coords.Longitude,
		Source:        source,
	}
}

// BatchPayload is the body of a batch POST. Coordinates and source are attached once for
// the whole batch.
type BatchPayload struct {
	UserLatitude  float64            `json:"user_latitude"`
	UserLongitude float64            `json:"user_longitude"`
	Source        string             `json:"source"`
	Interactions  []InteractionEvent `json:"interactions"`
}
