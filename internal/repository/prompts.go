package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
)

type PromptRepository interface {
	GetActive(ctx context.Context, name string) (*entity.PromptTemplate, error)
	Publish(ctx context.Context, tpl *entity.PromptTemplate) (*entity.PromptTemplate, error)
	List(ctx context.Context) ([]*entity.PromptTemplate, error)
}

type promptRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewPromptRepository(db *DB, logger *slog.Logger) PromptRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &promptRepository{db: db, logger: logger}
}

var promptColumns = []string{"id", "name", "description", "body", "variables", "version", "is_active", "created_at"}

func (r *promptRepository) GetActive(ctx context.Context, name string) (*entity.PromptTemplate, error) {
	row, err := queryRow(ctx, r.db.SQL, r.db.Builder().Select(promptColumns...).
		From("agent_prompts").
		Where(sq.Eq{"name": name, "is_active": true}))
	if err != nil {
		return nil, err
	}
	tpl, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("active prompt", name)
	}
	return tpl, err
}

// Publish inserts tpl as version max+1 and deactivates the previous active
// version in the same transaction.
func (r *promptRepository) Publish(ctx context.Context, tpl *entity.PromptTemplate) (*entity.PromptTemplate, error) {
	vars, err := json.Marshal(tpl.Variables)
	if err != nil {
		return nil, fmt.Errorf("encode variables: %w", err)
	}
	out := *tpl
	out.ID = uuid.New()
	out.IsActive = true
	out.CreatedAt = now()

	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		row, err := queryRow(ctx, tx, r.db.Builder().Select("COALESCE(MAX(version), 0)").
			From("agent_prompts").Where(sq.Eq{"name": tpl.Name}))
		if err != nil {
			return err
		}
		var latest int
		if err := row.Scan(&latest); err != nil {
			return fmt.Errorf("%w: latest prompt version: %v", common.ErrDatabase, err)
		}
		out.Version = latest + 1

		if _, err := exec(ctx, tx, r.db.Builder().Update("agent_prompts").
			Set("is_active", false).
			Where(sq.Eq{"name": tpl.Name, "is_active": true})); err != nil {
			return fmt.Errorf("%w: deactivate prompt: %v", common.ErrDatabase, err)
		}
		if _, err := exec(ctx, tx, r.db.Builder().Insert("agent_prompts").
			Columns(promptColumns...).
			Values(out.ID, out.Name, out.Description, out.Body, string(vars), out.Version, true, dbTime{out.CreatedAt})); err != nil {
			return fmt.Errorf("%w: insert prompt: %v", common.ErrDatabase, err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("prompt publish failed", "name", tpl.Name, "err", err)
		return nil, err
	}
	return &out, nil
}

func (r *promptRepository) List(ctx context.Context) ([]*entity.PromptTemplate, error) {
	rows, err := query(ctx, r.db.SQL, r.db.Builder().Select(promptColumns...).
		From("agent_prompts").
		OrderBy("name", "version"))
	if err != nil {
		return nil, fmt.Errorf("%w: list prompts: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.PromptTemplate
	for rows.Next() {
		tpl, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func scanPrompt(s rowScanner) (*entity.PromptTemplate, error) {
	var (
		tpl     entity.PromptTemplate
		vars    []byte
		created dbTime
	)
	if err := s.Scan(&tpl.ID, &tpl.Name, &tpl.Description, &tpl.Body, &vars, &tpl.Version, &tpl.IsActive, &created); err != nil {
		return nil, err
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &tpl.Variables); err != nil {
			return nil, fmt.Errorf("decode prompt variables: %w", err)
		}
	}
	tpl.CreatedAt = created.Time
	return &tpl, nil
}
