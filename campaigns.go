package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	CampaignStatusActive = "active"
	CampaignStatusPaused = "paused"
)

var (
	errCampaignInactive     = errors.New("campaign is not active")
	errTaskAlreadyCompleted = errors.New("task already completed")
	errTaskNotFound         = errors.New("task not found")
)

type Campaign struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Status      string         `json:"status"`
	StartsAt    time.Time      `json:"startsAt"`
	EndsAt      time.Time      `json:"endsAt"`
	Tasks       []CampaignTask `json:"tasks"`
}

type CampaignTask struct {
	ID           string `json:"id"`
	CampaignID   string `json:"campaignId"`
	Kind         string `json:"kind"`
	Title        string `json:"title"`
	TargetURL    string `json:"targetUrl,omitempty"`
	RewardPoints int64  `json:"rewardPoints"`
	Completed    bool   `json:"completed"`
}

func campaignIsActive(status string, startsAt, endsAt, now time.Time) bool {
	return status == CampaignStatusActive && !now.Before(startsAt) && now.Before(endsAt)
}

func listActiveCampaigns(ctx context.Context, db *sql.DB, userID string, now time.Time) ([]Campaign, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			c.id,
			c.title,
			c.description,
			c.status,
			c.starts_at,
			c.ends_at,
			t.id,
			t.kind,
			t.title,
			t.target_url,
			t.reward_points,
			(tc.task_id IS NOT NULL) AS completed
		FROM campaigns c
		LEFT JOIN campaign_tasks t ON t.campaign_id = c.id
		LEFT JOIN task_completions tc ON tc.task_id = t.id AND tc.user_id = $1
		WHERE c.status = 'active' AND c.starts_at <= $2 AND c.ends_at > $2
		ORDER BY c.ends_at ASC, c.id, t.position ASC
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []Campaign{}
	index := map[string]int{}
	for rows.Next() {
		var c Campaign
		var taskID, kind, title, target sql.NullString
		var reward sql.NullInt64
		var completed bool
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.Status, &c.StartsAt, &c.EndsAt,
			&taskID, &kind, &title, &target, &reward, &completed); err != nil {
			return nil, err
		}
		pos, seen := index[c.ID]
		if !seen {
			c.Tasks = []CampaignTask{}
			campaigns = append(campaigns, c)
			pos = len(campaigns) - 1
			index[c.ID] = pos
		}
		if taskID.Valid {
			campaigns[pos].Tasks = append(campaigns[pos].Tasks, CampaignTask{
				ID:           taskID.String,
				CampaignID:   c.ID,
				Kind:         kind.String,
				Title:        title.String,
				TargetURL:    target.String,
				RewardPoints: reward.Int64,
				Completed:    completed,
			})
		}
	}
	return campaigns, rows.Err()
}

type TaskCompletion struct {
	Granted int64
	Points  int64
	Capped  bool
}

// completeCampaignTask records the completion and awards the reward in one transaction.
func completeCampaignTask(ctx context.Context, db *sql.DB, userID, campaignID, taskID string, now time.Time) (TaskCompletion, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return TaskCompletion{}, err
	}
	defer tx.Rollback()

	var status string
	var startsAt, endsAt time.Time
	var reward int64
	err = tx.QueryRowContext(ctx, `
		SELECT c.status, c.starts_at, c.ends_at, t.reward_points
		FROM campaign_tasks t
		JOIN campaigns c ON c.id = t.campaign_id
		WHERE t.id = $1 AND t.campaign_id = $2
	`, taskID, campaignID).Scan(&status, &startsAt, &endsAt, &reward)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskCompletion{}, errTaskNotFound
	}
	if err != nil {
		return TaskCompletion{}, err
	}
	if !campaignIsActive(status, startsAt, endsAt, now) {
		return TaskCompletion{}, errCampaignInactive
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO task_completions (user_id, task_id, campaign_id, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, task_id) DO NOTHING
	`, userID, taskID, campaignID, now)
	if err != nil {
		return TaskCompletion{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return TaskCompletion{}, err
	} else if n == 0 {
		return TaskCompletion{}, errTaskAlreadyCompleted
	}

	var result TaskCompletion
	granted, total, err := awardPointsTx(ctx, tx, userID, reward, PointsSourceTask, taskID, now)
	switch {
	case errors.Is(err, errDailyPointsCapReached):
		result.Capped = true
	case err != nil:
		return TaskCompletion{}, err
	}
	result.Granted = granted
	result.Points = total
	if granted < reward {
		result.Capped = true
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE task_completions
		SET points_granted = $3
		WHERE user_id = $1 AND task_id = $2
	`, userID, taskID, granted); err != nil {
		return TaskCompletion{}, err
	}
	return result, tx.Commit()
}

func miniAppCampaignsHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireMiniAppUser(db, cfg, w, r)
		if !ok {
			return
		}
		campaigns, err := listActiveCampaigns(r.Context(), db, user.ID, time.Now().UTC())
		if err != nil {
			writeInternalError(w, err, "campaign list failed")
			return
		}
		writeOK(w, payload{"campaigns": campaigns})
	}
}

func miniAppCompleteTaskHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireMiniAppUser(db, cfg, w, r)
		if !ok {
			return
		}
		campaignID := chi.URLParam(r, "id")
		taskID := chi.URLParam(r, "taskId")
		if !isValidUUID(campaignID) || !isValidUUID(taskID) {
			writeError(w, http.StatusBadRequest, "Invalid campaign or task id")
			return
		}

		result, err := completeCampaignTask(r.Context(), db, user.ID, campaignID, taskID, time.Now().UTC())
		switch {
		case errors.Is(err, errTaskNotFound):
			writeError(w, http.StatusNotFound, "Task not found")
			return
		case errors.Is(err, errCampaignInactive):
			writeError(w, http.StatusBadRequest, "Campaign is not active")
			return
		case errors.Is(err, errTaskAlreadyCompleted):
			writeError(w, http.StatusBadRequest, "Task already completed")
			return
		case err != nil:
			writeInternalError(w, err, "task completion failed")
			return
		}
		writeOK(w, payload{"granted": result.Granted, "points": result.Points, "capped": result.Capped})
	}
}

type CreateCampaignRequest struct {
	ProjectID   string    `json:"projectId,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
	Tasks       []struct {
		Kind         string `json:"kind"`
		Title        string `json:"title"`
		TargetURL    string `json:"targetUrl"`
		RewardPoints int64  `json:"rewardPoints"`
	} `json:"tasks"`
}

var campaignTaskKinds = map[string]bool{
	"follow_x":  true,
	"retweet":   true,
	"join_tg":   true,
	"visit_url": true,
	"quiz":      true,
}

func (req *CreateCampaignRequest) validate() string {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || len(req.Title) > 200 {
		return "title is required (max 200 characters)"
	}
	if req.StartsAt.IsZero() || req.EndsAt.IsZero() || !req.EndsAt.After(req.StartsAt) {
		return "endsAt must be after startsAt"
	}
	if req.ProjectID != "" && !isValidUUID(req.ProjectID) {
		return "projectId must be a uuid"
	}
	if len(req.Tasks) == 0 || len(req.Tasks) > 50 {
		return "a campaign needs between 1 and 50 tasks"
	}
	for _, task := range req.Tasks {
		if !campaignTaskKinds[task.Kind] {
			return "unknown task kind " + task.Kind
		}
		if strings.TrimSpace(task.Title) == "" {
			return "every task needs a title"
		}
		if task.RewardPoints < 0 {
			return "rewardPoints cannot be negative"
		}
	}
	return ""
}

func adminCreateCampaignHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireAdminToken(cfg, w, r) {
			return
		}
		var req CreateCampaignRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}
		if msg := req.validate(); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		ctx := r.Context()
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			writeInternalError(w, err, "campaign create failed")
			return
		}
		defer tx.Rollback()

		campaignID := uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO campaigns (id, project_id, title, description, status, starts_at, ends_at, created_at)
			VALUES ($1, NULLIF($2, '')::uuid, $3, $4, 'active', $5, $6, NOW())
		`, campaignID, req.ProjectID, req.Title, strings.TrimSpace(req.Description), req.StartsAt.UTC(), req.EndsAt.UTC()); err != nil {
			writeInternalError(w, err, "campaign insert failed")
			return
		}
		for i, task := range req.Tasks {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO campaign_tasks (id, campaign_id, kind, title, target_url, reward_points, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, uuid.NewString(), campaignID, task.Kind, strings.TrimSpace(task.Title), strings.TrimSpace(task.TargetURL), task.RewardPoints, i); err != nil {
				writeInternalError(w, err, "campaign task insert failed")
				return
			}
		}
		if err := recordAdminAudit(ctx, tx, "admin-token", "campaign_create", "campaign", campaignID, map[string]interface{}{
			"title": req.Title,
			"tasks": len(req.Tasks),
		}); err != nil {
			writeInternalError(w, err, "campaign audit failed")
			return
		}
		if err := tx.Commit(); err != nil {
			writeInternalError(w, err, "campaign commit failed")
			return
		}
		log.Info().Str("campaignId", campaignID).Int("tasks", len(req.Tasks)).Msg("campaign created")
		writeOK(w, payload{"id": campaignID})
	}
}
