package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/codex/internal/model"
)

// PostgresGroupRepo はPostgreSQLを使用した読書グループリポジトリ。
type PostgresGroupRepo struct {
	db *sql.DB
}

// NewPostgresGroupRepo はPostgresGroupRepoを生成する。
func NewPostgresGroupRepo(db *sql.DB) *PostgresGroupRepo {
	return &PostgresGroupRepo{db: db}
}

const membershipColumns = `
	g.id, g.name, g.description, g.avatar_url, g.invitation_code, g.created_at,
	gm.role,
	(SELECT count(*) FROM group_members c WHERE c.group_id = g.id) AS members_count`

// ListMemberships はユーザーが所属するグループを役割とメンバー数付きで返す。
func (r *PostgresGroupRepo) ListMemberships(ctx context.Context, userID string) ([]model.Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT`+membershipColumns+`
		 FROM group_members gm
		 JOIN groups g ON g.id = gm.group_id
		 WHERE gm.user_id = $1
		 ORDER BY g.name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}
	return memberships, nil
}

// FindMembership はユーザーの指定グループへの所属を返す。所属していない場合はnilを返す。
func (r *PostgresGroupRepo) FindMembership(ctx context.Context, userID, groupID string) (*model.Membership, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT`+membershipColumns+`
		 FROM group_members gm
		 JOIN groups g ON g.id = gm.group_id
		 WHERE gm.user_id = $1 AND gm.group_id = $2`,
		userID, groupID,
	)
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	return m, nil
}

// ListAdminGroups はユーザーが管理者のグループを返す。
func (r *PostgresGroupRepo) ListAdminGroups(ctx context.Context, userID string) ([]model.Group, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT g.id, g.name, g.description, g.avatar_url, g.invitation_code, g.created_at
		 FROM group_members gm
		 JOIN groups g ON g.id = gm.group_id
		 WHERE gm.user_id = $1 AND gm.role = 'admin'
		 ORDER BY g.name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin groups: %w", err)
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		var g model.Group
		var avatarURL sql.NullString
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &avatarURL, &g.InvitationCode, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g.AvatarURL = avatarURL.String
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate admin groups: %w", err)
	}
	return groups, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMembership(s rowScanner) (*model.Membership, error) {
	m := &model.Membership{}
	var avatarURL sql.NullString
	var role string
	if err := s.Scan(&m.ID, &m.Name, &m.Description, &avatarURL, &m.InvitationCode, &m.CreatedAt,
		&role, &m.MembersCount); err != nil {
		return nil, err
	}
	m.AvatarURL = avatarURL.String
	m.Role = model.GroupRole(role)
	return m, nil
}

// compile-time interface check
var _ GroupRepository = (*PostgresGroupRepo)(nil)
