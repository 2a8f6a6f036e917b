package repository

import (
	"database/sql"
	"fmt"

	"github.com/relaydesk/relay/internal/models"
	"go.uber.org/zap"
)

// MemberRepository handles member and team directory operations
type MemberRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMemberRepository creates a new member repository
func NewMemberRepository(db *sql.DB, logger *zap.Logger) *MemberRepository {
	return &MemberRepository{db: db, logger: logger}
}

func (r *MemberRepository) execer(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.db
}

// Create creates a new member
func (r *MemberRepository) Create(tx *sql.Tx, member *models.Member) error {
	query := `
		INSERT INTO members (business_id, display_name, email, role, password_hash, archived)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if member.Role == "" {
		member.Role = models.RoleUser
	}

	result, err := r.execer(tx).Exec(query,
		member.BusinessID,
		member.DisplayName,
		nullString(member.Email),
		member.Role,
		nullString(member.PasswordHash),
		member.Archived,
	)
	if err != nil {
		r.logger.Error("Failed to create member", zap.String("display_name", member.DisplayName), zap.Error(err))
		return fmt.Errorf("failed to create member: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	member.ID = id
	return nil
}

const memberColumns = `id, business_id, display_name, email, role, password_hash, archived, created_at`

func scanMember(row interface{ Scan(...interface{}) error }) (*models.Member, error) {
	var member models.Member
	var email, passwordHash sql.NullString

	err := row.Scan(
		&member.ID,
		&member.BusinessID,
		&member.DisplayName,
		&email,
		&member.Role,
		&passwordHash,
		&member.Archived,
		&member.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	member.Email = email.String
	member.PasswordHash = passwordHash.String
	return &member, nil
}

// GetByID retrieves a member by ID; returns nil when not found
func (r *MemberRepository) GetByID(id int64) (*models.Member, error) {
	query := fmt.Sprintf("SELECT %s FROM members WHERE id = ?", memberColumns)

	member, err := scanMember(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get member by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	return member, nil
}

// GetByEmail retrieves a member by login email; returns nil when not found
func (r *MemberRepository) GetByEmail(email string) (*models.Member, error) {
	query := fmt.Sprintf("SELECT %s FROM members WHERE email = ?", memberColumns)

	member, err := scanMember(r.db.QueryRow(query, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get member by email", zap.Error(err))
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	return member, nil
}

// ListByTeam retrieves a team's roster. Archived members are excluded when
// assignableOnly is set; they still resolve through GetByID for history.
func (r *MemberRepository) ListByTeam(teamID int64, assignableOnly bool) ([]*models.Member, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM members m
		INNER JOIN member_teams mt ON mt.member_id = m.id
		WHERE mt.team_id = ?
	`, "m."+memberColumns)
	if assignableOnly {
		query += " AND m.archived = 0"
	}
	query += " ORDER BY m.display_name"

	rows, err := r.db.Query(query, teamID)
	if err != nil {
		r.logger.Error("Failed to list team members", zap.Int64("team_id", teamID), zap.Error(err))
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	defer rows.Close()

	return collectMembers(rows)
}

// ListAll retrieves every member in the directory. Used by @mention
// resolution, which is deliberately not team-scoped.
func (r *MemberRepository) ListAll() ([]*models.Member, error) {
	query := fmt.Sprintf("SELECT %s FROM members ORDER BY display_name", memberColumns)

	rows, err := r.db.Query(query)
	if err != nil {
		r.logger.Error("Failed to list members", zap.Error(err))
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	return collectMembers(rows)
}

func collectMembers(rows *sql.Rows) ([]*models.Member, error) {
	var members []*models.Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// AddToTeam links a member to a team; no-op when the link exists
func (r *MemberRepository) AddToTeam(tx *sql.Tx, memberID, teamID int64) error {
	query := `
		INSERT INTO member_teams (member_id, team_id) VALUES (?, ?)
		ON CONFLICT (member_id, team_id) DO NOTHING
	`

	_, err := r.execer(tx).Exec(query, memberID, teamID)
	if err != nil {
		r.logger.Error("Failed to add member to team",
			zap.Int64("member_id", memberID),
			zap.Int64("team_id", teamID),
			zap.Error(err))
		return fmt.Errorf("failed to add member to team: %w", err)
	}
	return nil
}

// SetArchived flips a member's archived flag
func (r *MemberRepository) SetArchived(tx *sql.Tx, memberID int64, archived bool) error {
	_, err := r.execer(tx).Exec("UPDATE members SET archived = ? WHERE id = ?", archived, memberID)
	if err != nil {
		r.logger.Error("Failed to set member archived", zap.Int64("member_id", memberID), zap.Error(err))
		return fmt.Errorf("failed to set member archived: %w", err)
	}
	return nil
}

// TeamRepository handles team lookups
type TeamRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTeamRepository creates a new team repository
func NewTeamRepository(db *sql.DB, logger *zap.Logger) *TeamRepository {
	return &TeamRepository{db: db, logger: logger}
}

// GetByID retrieves a team by ID; returns nil when not found
func (r *TeamRepository) GetByID(id int64) (*models.Team, error) {
	var team models.Team
	err := r.db.QueryRow(
		"SELECT id, business_id, name, created_at FROM teams WHERE id = ?", id,
	).Scan(&team.ID, &team.BusinessID, &team.Name, &team.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get team by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return &team, nil
}

// ListByBusiness retrieves all teams of a business
func (r *TeamRepository) ListByBusiness(businessID int64) ([]*models.Team, error) {
	rows, err := r.db.Query(
		"SELECT id, business_id, name, created_at FROM teams WHERE business_id = ? ORDER BY name",
		businessID,
	)
	if err != nil {
		r.logger.Error("Failed to list teams", zap.Int64("business_id", businessID), zap.Error(err))
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []*models.Team
	for rows.Next() {
		var team models.Team
		if err := rows.Scan(&team.ID, &team.BusinessID, &team.Name, &team.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, &team)
	}

	return teams, rows.Err()
}
