package retrieval

import "fmt"

// Router maps intents to search plans over the configured collections.
type Router struct {
	daily      string
	letter     string
	object     string
	topK       int32
	scoreFloor float64
}

// NewRouter creates a router over the three collection names.
func NewRouter(daily, letter, object string, topK int32, scoreFloor float64) *Router {
	return &Router{
		daily:      daily,
		letter:     letter,
		object:     object,
		topK:       topK,
		scoreFloor: scoreFloor,
	}
}

// Route derives the search plans for an intent. Every plan filters by the
// owner so one user's memories never surface in another's conversation.
// Letter requests fan out to the object collection as well, since letters
// routinely mention keepsakes.
func (r *Router) Route(intent Intent, ownerID string, hints map[string]string) ([]Plan, error) {
	base := map[string]string{MetaOwnerID: ownerID}

	switch intent {
	case IntentDaily:
		filter := cloneFilter(base)
		if date := hints[MetaDate]; date != "" {
			filter[MetaDate] = date
		}
		return []Plan{r.plan(r.daily, filter)}, nil

	case IntentLetter:
		return []Plan{
			r.plan(r.letter, cloneFilter(base)),
			r.plan(r.object, cloneFilter(base)),
		}, nil

	case IntentObject:
		filter := cloneFilter(base)
		if name := hints[MetaObjectName]; name != "" {
			filter[MetaObjectName] = name
		}
		return []Plan{r.plan(r.object, filter)}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, intent)
	}
}

// TopK returns the per-query result cap.
func (r *Router) TopK() int32 { return r.topK }

func (r *Router) plan(collection string, filter map[string]string) Plan {
	return Plan{
		Collection: collection,
		TopK:       r.topK,
		ScoreFloor: r.scoreFloor,
		Filter:     filter,
	}
}

func cloneFilter(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
