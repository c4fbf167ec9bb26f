package db

import (
	"context"
	"database/sql"
	"sync"

	"github.com/google/uuid"
	"github.com/kalends/kalends/domain"
	"log"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
	"time"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

const (
	//Calendars
	sqlInsertCalendar          = `INSERT INTO calendars(id, name, url_name, time_zone, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectCalendarById      = `SELECT id, name, url_name, time_zone, created_at FROM calendars WHERE id = ?`
	sqlSelectCalendarByUrlName = `SELECT id, name, url_name, time_zone, created_at FROM calendars WHERE url_name = ?`

	//Events
	sqlInsertEvent = `INSERT INTO events(id, calendar_id, summary, description, location, starts_at, ends_at, created_at, updated_at)
                                                            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectEventById = `SELECT id, calendar_id, summary, description, location, starts_at, ends_at, created_at, updated_at FROM events WHERE id = ?`
	sqlSelectEventsByCalendarId = `SELECT id, calendar_id, summary, description, location, starts_at, ends_at, created_at, updated_at FROM events
                                                            WHERE calendar_id = ?
                                                            ORDER BY starts_at ASC`
	sqlUpdateEvent = `UPDATE events SET summary = ?, description = ?, location = ?, starts_at = ?, ends_at = ?, updated_at = ? WHERE id = ?`
	sqlDeleteEvent = `DELETE FROM events WHERE id = ?`

	//Categories
	sqlInsertCategory          = `INSERT INTO categories(id, calendar_id, name, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectCategoryById      = `SELECT id, calendar_id, name, created_at FROM categories WHERE id = ?`
	sqlInsertEventCategory     = `INSERT OR IGNORE INTO event_categories(event_id, category_id) VALUES (?, ?)`
	sqlSelectEventCategoryIds  = `SELECT category_id FROM event_categories WHERE event_id = ?`
	sqlDeleteEventCategories   = `DELETE FROM event_categories WHERE event_id = ?`
)

func (db *DB) CreateCalendar(cal *domain.Calendar) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertCalendar,
			cal.Id.String(),
			cal.Name,
			cal.UrlName,
			cal.TimeZone,
			cal.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadCalendarById(id uuid.UUID) (error, *domain.Calendar) {
	row := db.db.QueryRow(sqlSelectCalendarById, id.String())
	return scanCalendar(row)
}

func (db *DB) ReadCalendarByUrlName(urlName string) (error, *domain.Calendar) {
	row := db.db.QueryRow(sqlSelectCalendarByUrlName, urlName)
	return scanCalendar(row)
}

func scanCalendar(row *sql.Row) (error, *domain.Calendar) {
	var cal domain.Calendar
	var idStr string
	err := row.Scan(&idStr, &cal.Name, &cal.UrlName, &cal.TimeZone, &cal.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	cal.Id, _ = uuid.Parse(idStr)
	return nil, &cal
}

func (db *DB) CreateEvent(ev *domain.Event) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertEvent,
			ev.Id.String(),
			ev.CalendarId.String(),
			ev.Summary,
			ev.Description,
			ev.Location,
			ev.StartsAt,
			ev.EndsAt,
			ev.CreatedAt,
			ev.UpdatedAt,
		)
		return err
	})
}

func (db *DB) ReadEventById(id uuid.UUID) (error, *domain.Event) {
	row := db.db.QueryRow(sqlSelectEventById, id.String())
	var ev domain.Event
	var idStr, calIdStr string
	err := row.Scan(&idStr, &calIdStr, &ev.Summary, &ev.Description, &ev.Location, &ev.StartsAt, &ev.EndsAt, &ev.CreatedAt, &ev.UpdatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	ev.Id, _ = uuid.Parse(idStr)
	ev.CalendarId, _ = uuid.Parse(calIdStr)
	return nil, &ev
}

func (db *DB) ReadEventsByCalendarId(calendarId uuid.UUID) (error, *[]domain.Event) {
	rows, err := db.db.Query(sqlSelectEventsByCalendarId, calendarId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var events []domain.Event

	for rows.Next() {
		var ev domain.Event
		var idStr, calIdStr string
		if err := rows.Scan(&idStr, &calIdStr, &ev.Summary, &ev.Description, &ev.Location, &ev.StartsAt, &ev.EndsAt, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return err, &events
		}
		ev.Id, _ = uuid.Parse(idStr)
		ev.CalendarId, _ = uuid.Parse(calIdStr)
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return err, &events
	}

	return nil, &events
}

func (db *DB) UpdateEvent(ev *domain.Event) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateEvent,
			ev.Summary,
			ev.Description,
			ev.Location,
			ev.StartsAt,
			ev.EndsAt,
			ev.UpdatedAt,
			ev.Id.String(),
		)
		return err
	})
}

func (db *DB) DeleteEvent(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlDeleteEventCategories, id.String()); err != nil {
			return err
		}
		_, err := tx.Exec(sqlDeleteEvent, id.String())
		return err
	})
}

func (db *DB) CreateCategory(cat *domain.Category) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertCategory,
			cat.Id.String(),
			cat.CalendarId.String(),
			cat.Name,
			cat.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadCategoryById(id uuid.UUID) (error, *domain.Category) {
	row := db.db.QueryRow(sqlSelectCategoryById, id.String())
	var cat domain.Category
	var idStr, calIdStr string
	err := row.Scan(&idStr, &calIdStr, &cat.Name, &cat.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	cat.Id, _ = uuid.Parse(idStr)
	cat.CalendarId, _ = uuid.Parse(calIdStr)
	return nil, &cat
}

func (db *DB) AssignEventCategory(eventId uuid.UUID, categoryId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertEventCategory, eventId.String(), categoryId.String())
		return err
	})
}

func (db *DB) ReadEventCategoryIds(eventId uuid.UUID) (error, []uuid.UUID) {
	rows, err := db.db.Query(sqlSelectEventCategoryIds, eventId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return err, ids
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return err, ids
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return err, ids
	}
	return nil, ids
}

// Open opens a database at the given path and applies connection settings.
// In-memory databases are pinned to a single connection so every query sees
// the same store.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		// Configure connection pool for concurrent access
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)

		var journalMode string
		if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
			log.Printf("Warning: Failed to enable WAL mode: %v", err)
		} else {
			log.Printf("Database journal mode: %s", journalMode)
		}
	}

	// PRAGMAs for the concurrent federation workload
	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	return &DB{db: sqlDB}, nil
}

func GetDB() *DB {
	dbOnce.Do(func() {
		database, err := Open("database.db")
		if err != nil {
			panic(err)
		}

		dbInstance = database

		if err := dbInstance.RunMigrations(); err != nil {
			panic(err)
		}
	})

	return dbInstance
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}
