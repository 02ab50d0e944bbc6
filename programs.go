package main

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
)

const (
	ProgramStatusOpen    = "open"
	MemberStatusPending  = "pending"
	MemberStatusApproved = "approved"
	MemberStatusRejected = "rejected"
)

type CreatorProgram struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"projectId"`
	ProjectName  string    `json:"projectName"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"createdAt"`
	MemberStatus string    `json:"memberStatus,omitempty"`
}

func arcProgramsHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireSession(db, cfg, w, r)
		if !ok {
			return
		}
		rows, err := db.QueryContext(r.Context(), `
			SELECT cp.id, cp.project_id, p.name, cp.title, cp.description, cp.created_at, COALESCE(m.status, '')
			FROM creator_programs cp
			JOIN projects p ON p.id = cp.project_id
			LEFT JOIN creator_program_members m ON m.program_id = cp.id AND m.user_id = $1
			WHERE cp.status = 'open'
			ORDER BY cp.created_at DESC
		`, user.UserID)
		if err != nil {
			writeInternalError(w, err, "programs query failed")
			return
		}
		defer rows.Close()

		programs := []CreatorProgram{}
		for rows.Next() {
			var p CreatorProgram
			if err := rows.Scan(&p.ID, &p.ProjectID, &p.ProjectName, &p.Title, &p.Description, &p.CreatedAt, &p.MemberStatus); err != nil {
				writeInternalError(w, err, "programs scan failed")
				return
			}
			programs = append(programs, p)
		}
		if err := rows.Err(); err != nil {
			writeInternalError(w, err, "programs rows failed")
			return
		}
		writeOK(w, payload{"programs": programs})
	}
}

func arcProgramApplyHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireSession(db, cfg, w, r)
		if !ok {
			return
		}
		programID := chi.URLParam(r, "id")
		if !isValidUUID(programID) {
			writeError(w, http.StatusBadRequest, "Invalid program id")
			return
		}
		var status string
		err := db.QueryRowContext(r.Context(), `SELECT status FROM creator_programs WHERE id = $1`, programID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Program not found")
			return
		}
		if err != nil {
			writeInternalError(w, err, "program lookup failed")
			return
		}
		if status != ProgramStatusOpen {
			writeError(w, http.StatusBadRequest, "Program is not accepting applications")
			return
		}
		res, err := db.ExecContext(r.Context(), `
			INSERT INTO creator_program_members (program_id, user_id, status, applied_at)
			VALUES ($1, $2, 'pending', NOW())
			ON CONFLICT (program_id, user_id) DO NOTHING
		`, programID, user.UserID)
		if err != nil {
			writeInternalError(w, err, "program apply failed")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			writeError(w, http.StatusBadRequest, "Already applied")
			return
		}
		writeOK(w, payload{"status": MemberStatusPending})
	}
}

func adminProgramMemberHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := requirePortalAdmin(db, cfg, w, r)
		if !ok {
			return
		}
		programID := chi.URLParam(r, "id")
		userID := chi.URLParam(r, "userId")
		if !isValidUUID(programID) || !isValidUUID(userID) {
			writeError(w, http.StatusBadRequest, "Invalid program or user id")
			return
		}
		var req struct {
			Status string `json:"status"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}
		if req.Status != MemberStatusApproved && req.Status != MemberStatusRejected {
			writeError(w, http.StatusBadRequest, "status must be approved or rejected")
			return
		}

		ctx := r.Context()
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			writeInternalError(w, err, "program decision failed")
			return
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `
			UPDATE creator_program_members
			SET status = $3, decided_at = NOW()
			WHERE program_id = $1 AND user_id = $2
		`, programID, userID, req.Status)
		if err != nil {
			writeInternalError(w, err, "program decision update failed")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			writeError(w, http.StatusNotFound, "Application not found")
			return
		}
		if err := recordAdminAudit(ctx, tx, admin.Actor(), "program_decision", "creator_program", programID, map[string]string{
			"userId": userID,
			"status": req.Status,
		}); err != nil {
			writeInternalError(w, err, "program decision audit failed")
			return
		}
		if err := tx.Commit(); err != nil {
			writeInternalError(w, err, "program decision commit failed")
			return
		}
		emitNotifications(ctx, db, []NotificationInput{{
			UserID:  userID,
			Kind:    NotificationKindProgram,
			Message: "Your creator program application was " + req.Status,
			Payload: map[string]string{"programId": programID, "status": req.Status},
		}})
		writeOK(w, payload{"status": req.Status})
	}
}
