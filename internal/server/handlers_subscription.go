package server

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ashton/loopchat/internal/models"
)

func getSubscription(db *sql.DB) (*models.Subscription, error) {
	var s models.Subscription
	var plan, status string
	err := db.QueryRow(
		"SELECT id, plan, status, amount, interval, start_date FROM subscriptions ORDER BY updated_at DESC LIMIT 1",
	).Scan(&s.ID, &plan, &status, &s.Amount, &s.Interval, &s.StartDate)
	if err != nil {
		return nil, err
	}
	s.Plan = models.Plan(plan)
	s.Status = models.SubscriptionStatus(status)
	return &s, nil
}

// handleGetSubscription returns the current subscription, or null.
func handleGetSubscription(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	sub, err := getSubscription(db)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query subscription")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleUpdateSubscription replaces the current subscription. The start date
// moves only when the plan changes.
func handleUpdateSubscription(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	var input models.SubscriptionUpdate
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch input.Plan {
	case models.PlanNone, models.PlanCore, models.PlanYearly:
	default:
		writeError(w, http.StatusBadRequest, "plan must be none, core or yearly")
		return
	}
	switch input.Status {
	case "":
		input.Status = models.StatusActive
	case models.StatusActive, models.StatusInactive:
	default:
		writeError(w, http.StatusBadRequest, "status must be active or inactive")
		return
	}

	now := time.Now().UTC()
	current, err := getSubscription(db)
	if err != nil && err != sql.ErrNoRows {
		writeError(w, http.StatusInternalServerError, "failed to query subscription")
		return
	}

	sub := models.Subscription{
		ID:        uuid.New().String(),
		Plan:      input.Plan,
		Status:    input.Status,
		Amount:    input.Amount,
		Interval:  input.Interval,
		StartDate: now,
	}
	if current != nil {
		sub.ID = current.ID
		if current.Plan == input.Plan {
			sub.StartDate = current.StartDate
		}
	}

	_, err = db.Exec(
		`INSERT INTO subscriptions (id, plan, status, amount, interval, start_date, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET plan = excluded.plan, status = excluded.status, amount = excluded.amount,
			interval = excluded.interval, start_date = excluded.start_date, updated_at = excluded.updated_at`,
		sub.ID, string(sub.Plan), string(sub.Status), sub.Amount, sub.Interval, sub.StartDate, now,
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update subscription")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
