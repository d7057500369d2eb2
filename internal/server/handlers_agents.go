package server

import (
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashton/loopchat/internal/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const agentColumns = "id, name, description, platform, webhook_url, active, created_at"

func scanAgent(row rowScanner) (models.Agent, error) {
	var a models.Agent
	var platform string
	var active int
	err := row.Scan(&a.ID, &a.Name, &a.Description, &platform, &a.WebhookURL, &active, &a.CreatedAt)
	a.Platform = models.Platform(platform)
	a.Active = active != 0
	return a, err
}

func getAgent(db *sql.DB, id string) (models.Agent, error) {
	return scanAgent(db.QueryRow("SELECT "+agentColumns+" FROM agents WHERE id = ?", id))
}

// handleListAgents lists every agent, oldest first.
func handleListAgents(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query("SELECT " + agentColumns + " FROM agents ORDER BY created_at, rowid")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query agents")
		return
	}
	defer rows.Close()

	agents := []models.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read agent")
			return
		}
		agents = append(agents, a)
	}
	writeJSON(w, http.StatusOK, agents)
}

// handleCreateAgent creates an agent.
func handleCreateAgent(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	var input models.AgentInput
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !input.Platform.Valid() {
		writeError(w, http.StatusBadRequest, "platform must be n8n or make")
		return
	}

	a := models.Agent{
		ID:          uuid.New().String(),
		Name:        input.Name,
		Description: input.Description,
		Platform:    input.Platform,
		WebhookURL:  strings.TrimSpace(input.WebhookURL),
		Active:      input.Active,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := db.Exec(
		`INSERT INTO agents (id, name, description, platform, webhook_url, active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Description, string(a.Platform), a.WebhookURL, boolInt(a.Active), a.CreatedAt,
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create agent")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// handleUpdateAgent applies a partial update and returns the stored agent.
func handleUpdateAgent(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := getAgent(db, id); err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query agent")
		return
	}

	var input models.AgentPatch
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var setClauses []string
	var args []any
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "name cannot be empty")
			return
		}
		setClauses = append(setClauses, "name = ?")
		args = append(args, name)
	}
	if input.Description != nil {
		setClauses = append(setClauses, "description = ?")
		args = append(args, *input.Description)
	}
	if input.Platform != nil {
		if !input.Platform.Valid() {
			writeError(w, http.StatusBadRequest, "platform must be n8n or make")
			return
		}
		setClauses = append(setClauses, "platform = ?")
		args = append(args, string(*input.Platform))
	}
	if input.WebhookURL != nil {
		setClauses = append(setClauses, "webhook_url = ?")
		args = append(args, strings.TrimSpace(*input.WebhookURL))
	}
	if input.Active != nil {
		setClauses = append(setClauses, "active = ?")
		args = append(args, boolInt(*input.Active))
	}
	if len(setClauses) == 0 {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE agents SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	if _, err := db.Exec(query, args...); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update agent")
		return
	}

	a, err := getAgent(db, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve updated agent")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleDeleteAgent deletes an agent. Its chats stay and keep pointing at it.
func handleDeleteAgent(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	res, err := db.Exec("DELETE FROM agents WHERE id = ?", r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete agent")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
