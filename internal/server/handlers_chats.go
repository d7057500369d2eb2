package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ashton/loopchat/internal/models"
)

const chatColumns = "id, name, agent_id, created_at"

func scanChat(row rowScanner) (models.Chat, error) {
	var c models.Chat
	err := row.Scan(&c.ID, &c.Name, &c.AgentID, &c.CreatedAt)
	return c, err
}

func getChat(db *sql.DB, id string) (models.Chat, error) {
	return scanChat(db.QueryRow("SELECT "+chatColumns+" FROM chats WHERE id = ?", id))
}

// handleListChats lists chats, newest first.
func handleListChats(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query("SELECT " + chatColumns + " FROM chats ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query chats")
		return
	}
	defer rows.Close()

	chats := []models.Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read chat")
			return
		}
		chats = append(chats, c)
	}
	writeJSON(w, http.StatusOK, chats)
}

// handleCreateChat creates a chat bound to an existing agent.
func handleCreateChat(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name    string `json:"name"`
		AgentID string `json:"agentId"`
	}
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" || input.AgentID == "" {
		writeError(w, http.StatusBadRequest, "name and agentId are required")
		return
	}
	if _, err := getAgent(db, input.AgentID); err == sql.ErrNoRows {
		writeError(w, http.StatusUnprocessableEntity, "agent not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query agent")
		return
	}

	c := models.Chat{ID: uuid.New().String(), Name: input.Name, AgentID: input.AgentID, CreatedAt: time.Now().UTC()}
	if _, err := db.Exec(`INSERT INTO chats (id, name, agent_id, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, c.AgentID, c.CreatedAt); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create chat")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleUpdateChat renames a chat or rebinds it to another agent.
func handleUpdateChat(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := getChat(db, id); err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query chat")
		return
	}

	var input models.ChatPatch
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
	if input.AgentID != nil {
		if _, err := getAgent(db, *input.AgentID); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "agent not found")
			return
		}
		setClauses = append(setClauses, "agent_id = ?")
		args = append(args, *input.AgentID)
	}
	if len(setClauses) == 0 {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE chats SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	if _, err := db.Exec(query, args...); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update chat")
		return
	}

	c, err := getChat(db, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve updated chat")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleDeleteChat deletes a chat (cascades to its messages).
func handleDeleteChat(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	res, err := db.Exec("DELETE FROM chats WHERE id = ?", r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const messageColumns = "id, content, sender, attachments, agent_id, created_at"

func scanMessage(row rowScanner) (models.Message, error) {
	var m models.Message
	var sender, attachments string
	if err := row.Scan(&m.ID, &m.Content, &sender, &attachments, &m.AgentID, &m.Timestamp); err != nil {
		return m, err
	}
	m.Sender = models.Sender(sender)
	if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil || m.Attachments == nil {
		m.Attachments = []models.Attachment{}
	}
	return m, nil
}

func insertMessage(db *sql.DB, chatID string, m models.Message) error {
	if m.Attachments == nil {
		m.Attachments = []models.Attachment{}
	}
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO messages (id, chat_id, content, sender, attachments, agent_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, chatID, m.Content, string(m.Sender), string(attachments), m.AgentID, m.Timestamp,
	)
	return err
}

// handleListMessages lists a chat's messages in the order they were added.
func handleListMessages(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if _, err := getChat(db, chatID); err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query chat")
		return
	}

	rows, err := db.Query("SELECT "+messageColumns+" FROM messages WHERE chat_id = ? ORDER BY rowid", chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query messages")
		return
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read message")
			return
		}
		msgs = append(msgs, m)
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleCreateMessage stores a user message.
func handleCreateMessage(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	var input struct {
		Content     string              `json:"content"`
		Attachments []models.Attachment `json:"attachments"`
	}
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(input.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if _, err := getChat(db, chatID); err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query chat")
		return
	}

	m := models.Message{
		ID:          uuid.New().String(),
		Content:     input.Content,
		Sender:      models.SenderUser,
		Timestamp:   time.Now().UTC(),
		Attachments: input.Attachments,
	}
	if m.Attachments == nil {
		m.Attachments = []models.Attachment{}
	}
	if err := insertMessage(db, chatID, m); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create message")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// handleWebhook forwards a user message to the chat's agent and stores the
// reply as an agent message.
func handleWebhook(db *sql.DB, d *Dispatcher, w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	var input struct {
		AgentID string `json:"agentId"`
		Message string `json:"message"`
	}
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(input.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	chat, err := getChat(db, chatID)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query chat")
		return
	}
	agentID := input.AgentID
	if agentID == "" {
		agentID = chat.AgentID
	}
	agent, err := getAgent(db, agentID)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query agent")
		return
	}
	if !agent.Active {
		writeError(w, http.StatusUnprocessableEntity, "agent is inactive")
		return
	}
	if agent.WebhookURL == "" {
		writeError(w, http.StatusUnprocessableEntity, "agent has no webhook url")
		return
	}

	reply, err := d.Dispatch(r.Context(), agent, chatID, input.Message)
	if err != nil {
		d.logger.Warn("dispatch webhook", zap.String("agent", agent.ID), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	m := models.Message{
		ID:          uuid.New().String(),
		Content:     reply,
		Sender:      models.SenderAgent,
		Timestamp:   time.Now().UTC(),
		Attachments: []models.Attachment{},
		AgentID:     agent.ID,
	}
	if err := insertMessage(db, chatID, m); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store reply")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}
