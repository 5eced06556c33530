package httpserver

import (
	"errors"
	"net/http"

	"github.com/l18784175468-oss/77ai/internal/subscription"
)

func (s *Server) handleSubscriptionGet(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subs.EnsureSubscription(r.Context(), s.userID(r))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"subscription": sub,
		"features":     subscription.PlanFeatures(sub.Plan),
	})
}

func (s *Server) handleSubscriptionPlans(w http.ResponseWriter, r *http.Request) {
	type planView struct {
		ID       subscription.Plan     `json:"id"`
		Name     string                `json:"name"`
		Features subscription.Features `json:"features"`
	}
	all := subscription.AllPlans()
	plans := make([]planView, 0, len(all))
	for _, p := range all {
		plans = append(plans, planView{ID: p, Name: subscription.PlanName(p), Features: subscription.PlanFeatures(p)})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (s *Server) handleSubscriptionUsage(w http.ResponseWriter, r *http.Request) {
	stats, err := s.subs.UsageStats(r.Context(), s.userID(r))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSubscriptionUpgrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan subscription.Plan `json:"plan"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if !subscription.ValidPlan(req.Plan) {
		s.respondError(w, http.StatusBadRequest, errors.New("unknown plan"))
		return
	}
	sub, err := s.subs.UpdateSubscriptionPlan(r.Context(), s.userID(r), req.Plan)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"subscription": sub,
		"features":     subscription.PlanFeatures(sub.Plan),
	})
}

func (s *Server) handleSubscriptionCancel(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subs.CancelSubscription(r.Context(), s.userID(r))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"subscription": sub})
}
