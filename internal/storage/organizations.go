package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ListMemberEmails returns the distinct email addresses of every member of
// an organization, sorted for deterministic fan-out.
func (db *DB) ListMemberEmails(ctx context.Context, orgID string) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT u.email
		 FROM member m JOIN "user" u ON u.id = m."userId"
		 WHERE m."organizationId" = $1 AND u.email <> ''
		 ORDER BY u.email`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list member emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("storage: scan member email: %w", err)
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// CreateOrganization inserts an organization and returns its id.
func (db *DB) CreateOrganization(ctx context.Context, name, slug string) (string, error) {
	id := uuid.NewString()
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO organization (id, name, slug) VALUES ($1, $2, $3)`, id, name, slug,
	); err != nil {
		return "", fmt.Errorf("storage: create organization: %w", err)
	}
	return id, nil
}

// AddMember creates a user (if the email is new) and adds it to the organization.
func (db *DB) AddMember(ctx context.Context, orgID, email string) error {
	var userID string
	err := db.pool.QueryRow(ctx,
		`INSERT INTO "user" (id, email) VALUES ($1, $2)
		 ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		 RETURNING id`,
		uuid.NewString(), email,
	).Scan(&userID)
	if err != nil {
		return fmt.Errorf("storage: upsert user: %w", err)
	}
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO member (id, "organizationId", "userId") VALUES ($1, $2, $3)`,
		uuid.NewString(), orgID, userID,
	); err != nil {
		return fmt.Errorf("storage: add member: %w", err)
	}
	return nil
}

// CreateProject inserts a project and returns its id.
func (db *DB) CreateProject(ctx context.Context, orgID, name string) (int64, error) {
	var id int64
	if err := db.pool.QueryRow(ctx,
		`INSERT INTO projects (name, "organizationId") VALUES ($1, $2) RETURNING id`, name, orgID,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("storage: create project: %w", err)
	}
	return id, nil
}
