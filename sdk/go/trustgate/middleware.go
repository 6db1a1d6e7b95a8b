package trustgate

import (
	"encoding/json"
	"net/http"
)

// Middleware returns an http.Handler that decides each request as a
// WebFetch of its URL before passing it to next. Blocked requests receive
// a 403 with a JSON body.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := actionFromRequest(r)
		result, err := c.decide(r.Context(), c.cfg.entityID, action)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if !result.Allowed() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]any{
				"blocked":      true,
				"decision":     string(result.Decision),
				"reason":       result.Reason,
				"matched_rule": result.RuleID,
				"action_id":    result.ActionID,
				"approval_key": result.ApprovalKey,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// actionFromRequest maps an HTTP request to an SDK Action.
func actionFromRequest(r *http.Request) Action {
	resource := r.URL.String()
	if r.URL.Host == "" && r.Host != "" {
		resource = r.Host + r.URL.RequestURI()
	}
	return Action{
		Tool:       "WebFetch",
		Target:     resource,
		Parameters: map[string]string{"method": r.Method, "url": resource},
	}
}
