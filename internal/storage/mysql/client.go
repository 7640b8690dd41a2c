package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medassist/backend/internal/metrics"
	"github.com/medassist/backend/internal/storage/models"
	"github.com/medassist/backend/pkg/config"
	"github.com/medassist/backend/pkg/logger"
)

const mysqlErrDuplicateEntry = 1062

// StoreError wraps any relational failure inside the gateway; the whole unit
// of work has been rolled back by the time it surfaces.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("concept store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ConceptConflictError means the concept name is already bound to a concept
// under a different external code.
type ConceptConflictError struct {
	Name      string
	Code      string
	ConceptID int64
}

func (e *ConceptConflictError) Error() string {
	return fmt.Sprintf("concept %q already exists under a different mapping (concept id %d)", e.Name, e.ConceptID)
}

// UpsertResult reports the concept a mapping resolved to and whether this
// call created it.
type UpsertResult struct {
	ConceptID int64
	Created   bool
}

// Client is the gateway to the five-table concept dictionary.
type Client struct {
	db  *sql.DB
	cfg config.ConceptConfig
	loc *time.Location
}

func NewClient(dsn string, cfg config.ConceptConfig) (*Client, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	logger.Info("Concept store client initialized")

	return newWithDB(db, cfg), nil
}

// NewWithDB wires the gateway over an existing handle.
func NewWithDB(db *sql.DB, cfg config.ConceptConfig) *Client {
	return newWithDB(db, cfg)
}

func newWithDB(db *sql.DB, cfg config.ConceptConfig) *Client {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("Unknown timezone, using local", zap.String("timezone", cfg.Timezone))
		loc = time.Local
	}
	return &Client{db: db, cfg: cfg, loc: loc}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS concept (
		concept_id INT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		class_id INT NOT NULL,
		datatype_id INT NOT NULL,
		retired TINYINT NOT NULL DEFAULT 0,
		is_set TINYINT NOT NULL DEFAULT 0,
		creator INT NOT NULL,
		date_created DATETIME NOT NULL,
		uuid CHAR(36) NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS concept_name (
		concept_name_id INT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		concept_id INT NOT NULL,
		name VARCHAR(255) NOT NULL,
		locale VARCHAR(50) NOT NULL,
		creator INT NOT NULL,
		date_created DATETIME NOT NULL,
		voided TINYINT NOT NULL DEFAULT 0,
		uuid CHAR(36) NOT NULL UNIQUE,
		concept_name_type VARCHAR(50),
		UNIQUE KEY uq_concept_name_locale (name, locale, concept_name_type),
		KEY idx_concept_name_concept (concept_id)
	);

	CREATE TABLE IF NOT EXISTS concept_reference_term (
		concept_reference_term_id INT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		concept_source_id INT NOT NULL,
		code VARCHAR(255) NOT NULL,
		creator INT NOT NULL,
		date_created DATETIME NOT NULL,
		retired TINYINT NOT NULL DEFAULT 0,
		uuid CHAR(36) NOT NULL UNIQUE,
		UNIQUE KEY uq_reference_term_code_source (code, concept_source_id)
	);

	CREATE TABLE IF NOT EXISTS concept_reference_map (
		concept_map_id INT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		concept_reference_term_id INT NOT NULL,
		concept_map_type_id INT NOT NULL,
		creator INT NOT NULL,
		date_created DATETIME NOT NULL,
		concept_id INT NOT NULL,
		uuid CHAR(36) NOT NULL UNIQUE,
		KEY idx_reference_map_concept (concept_id),
		KEY idx_reference_map_term (concept_reference_term_id)
	);

	CREATE TABLE IF NOT EXISTS concept_set (
		concept_set_id INT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		concept_set INT NOT NULL,
		concept_id INT NOT NULL,
		creator INT NOT NULL,
		date_created DATETIME NOT NULL,
		uuid CHAR(36) NOT NULL UNIQUE,
		KEY idx_concept_set_set (concept_set)
	);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Concept schema initialized")
	return nil
}

// UpsertConcept maps a concept name and external code into the dictionary.
// An existing mapping for the code is returned unchanged; otherwise the
// concept, its name, a reference term, its map and the set membership are
// created inside one transaction.
func (c *Client) UpsertConcept(ctx context.Context, name, code string) (UpsertResult, error) {
	conceptID, found, err := c.conceptIDForCode(ctx, code)
	if err != nil {
		return UpsertResult{}, &StoreError{Op: "mapping lookup", Err: err}
	}
	if found {
		metrics.ConceptLookups.WithLabelValues("existing").Inc()
		logger.Info("Concept mapping already present",
			zap.String("code", code),
			zap.Int64("concept_id", conceptID),
		)
		return UpsertResult{ConceptID: conceptID}, nil
	}

	existingID, found, err := c.conceptIDForName(ctx, name)
	if err != nil {
		return UpsertResult{}, &StoreError{Op: "name lookup", Err: err}
	}
	if found {
		metrics.ConceptLookups.WithLabelValues("conflict").Inc()
		return UpsertResult{}, &ConceptConflictError{Name: name, Code: code, ConceptID: existingID}
	}

	conceptID, err = c.createConcept(ctx, name, code)
	if err != nil {
		if isDuplicateEntry(err) {
			// Lost a creation race; the winner's rows satisfy this request.
			return c.resolveAfterRace(ctx, name, code)
		}
		return UpsertResult{}, err
	}

	metrics.ConceptLookups.WithLabelValues("created").Inc()
	metrics.ConceptsCreated.Inc()
	logger.Info("Concept created",
		zap.String("name", name),
		zap.String("code", code),
		zap.Int64("concept_id", conceptID),
	)
	return UpsertResult{ConceptID: conceptID, Created: true}, nil
}

func (c *Client) resolveAfterRace(ctx context.Context, name, code string) (UpsertResult, error) {
	conceptID, found, err := c.conceptIDForCode(ctx, code)
	if err != nil {
		return UpsertResult{}, &StoreError{Op: "post-race lookup", Err: err}
	}
	if found {
		metrics.ConceptLookups.WithLabelValues("existing").Inc()
		return UpsertResult{ConceptID: conceptID}, nil
	}
	existingID, found, err := c.conceptIDForName(ctx, name)
	if err != nil {
		return UpsertResult{}, &StoreError{Op: "post-race lookup", Err: err}
	}
	if found {
		return UpsertResult{}, &ConceptConflictError{Name: name, Code: code, ConceptID: existingID}
	}
	return UpsertResult{}, &StoreError{Op: "create", Err: errors.New("duplicate entry with no resolvable mapping")}
}

// conceptIDForCode follows reference term -> reference map -> concept.
func (c *Client) conceptIDForCode(ctx context.Context, code string) (int64, bool, error) {
	query := `
		SELECT m.concept_id
		FROM concept_reference_term t
		JOIN concept_reference_map m ON m.concept_reference_term_id = t.concept_reference_term_id
		WHERE t.code = ? AND t.concept_source_id = ? AND t.retired = 0
		LIMIT 1
	`

	var conceptID int64
	err := c.db.QueryRowContext(ctx, query, code, c.cfg.SourceID).Scan(&conceptID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return conceptID, true, nil
}

func (c *Client) conceptIDForName(ctx context.Context, name string) (int64, bool, error) {
	query := `
		SELECT concept_id FROM concept_name
		WHERE LOWER(name) = LOWER(?) AND locale = ? AND concept_name_type = ? AND voided = 0
		LIMIT 1
	`

	var conceptID int64
	err := c.db.QueryRowContext(ctx, query, name, c.cfg.Locale, c.cfg.NameType).Scan(&conceptID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return conceptID, true, nil
}

// createConcept performs the four inserts plus the set membership in one
// transaction; all succeed or all roll back.
func (c *Client) createConcept(ctx context.Context, name, code string) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &StoreError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	now := c.now()

	concept := models.Concept{
		ClassID:     c.cfg.ClassID,
		DatatypeID:  c.cfg.DatatypeID,
		Retired:     c.cfg.Retired,
		IsSet:       c.cfg.IsSet,
		Creator:     c.cfg.CreatorID,
		DateCreated: now,
		UUID:        uuid.NewString(),
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO concept (class_id, datatype_id, retired, is_set, creator, date_created, uuid)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		concept.ClassID, concept.DatatypeID, concept.Retired, concept.IsSet, concept.Creator, concept.DateCreated, concept.UUID,
	)
	if err != nil {
		return 0, wrapInsert("concept", err)
	}
	conceptID, err := res.LastInsertId()
	if err != nil {
		return 0, &StoreError{Op: "concept insert", Err: err}
	}

	conceptName := models.ConceptName{
		ConceptID:       conceptID,
		Name:            name,
		Locale:          c.cfg.Locale,
		ConceptNameType: c.cfg.NameType,
		Creator:         c.cfg.CreatorID,
		DateCreated:     now,
		UUID:            uuid.NewString(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO concept_name (concept_id, name, locale, creator, date_created, voided, uuid, concept_name_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conceptName.ConceptID, conceptName.Name, conceptName.Locale, conceptName.Creator, conceptName.DateCreated,
		conceptName.Voided, conceptName.UUID, conceptName.ConceptNameType,
	)
	if err != nil {
		return 0, wrapInsert("concept_name", err)
	}

	term := models.ConceptReferenceTerm{
		ConceptSourceID: c.cfg.SourceID,
		Code:            code,
		Creator:         c.cfg.CreatorID,
		DateCreated:     now,
		Retired:         c.cfg.Retired,
		UUID:            uuid.NewString(),
	}
	res, err = tx.ExecContext(ctx,
		`INSERT INTO concept_reference_term (concept_source_id, code, creator, date_created, retired, uuid)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		term.ConceptSourceID, term.Code, term.Creator, term.DateCreated, term.Retired, term.UUID,
	)
	if err != nil {
		return 0, wrapInsert("concept_reference_term", err)
	}
	termID, err := res.LastInsertId()
	if err != nil {
		return 0, &StoreError{Op: "concept_reference_term insert", Err: err}
	}

	refMap := models.ConceptReferenceMap{
		ConceptReferenceTermID: termID,
		ConceptMapTypeID:       c.cfg.MapTypeID,
		ConceptID:              conceptID,
		Creator:                c.cfg.CreatorID,
		DateCreated:            now,
		UUID:                   uuid.NewString(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO concept_reference_map (concept_reference_term_id, concept_map_type_id, creator, date_created, concept_id, uuid)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		refMap.ConceptReferenceTermID, refMap.ConceptMapTypeID, refMap.Creator, refMap.DateCreated, refMap.ConceptID, refMap.UUID,
	)
	if err != nil {
		return 0, wrapInsert("concept_reference_map", err)
	}

	member := models.ConceptSetMember{
		ConceptSet:  c.cfg.SetID,
		ConceptID:   conceptID,
		Creator:     c.cfg.CreatorID,
		DateCreated: now,
		UUID:        uuid.NewString(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO concept_set (concept_set, concept_id, creator, date_created, uuid)
		 VALUES (?, ?, ?, ?, ?)`,
		member.ConceptSet, member.ConceptID, member.Creator, member.DateCreated, member.UUID,
	)
	if err != nil {
		return 0, wrapInsert("concept_set", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, &StoreError{Op: "commit", Err: err}
	}

	return conceptID, nil
}

func (c *Client) now() string {
	return time.Now().In(c.loc).Format("2006-01-02 15:04:05")
}

func wrapInsert(table string, err error) error {
	if isDuplicateEntry(err) {
		return err
	}
	return &StoreError{Op: table + " insert", Err: err}
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry
}
