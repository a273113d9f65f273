/*
 * Copyright 2019 The GameChain Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/gamechain/gamechain/storage"
	"github.com/gamechain/gamechain/types"
	"github.com/gamechain/gamechain/utils"
)

// undoScript is the msgpack-encoded per-block undo entry: the inverse
// statements recorded by the capture triggers, ordered ready to execute.
type undoScript struct {
	Parent string
	Stmts  []string
}

// captureTables lists the tables covered by changelog capture: every
// rule-owned table plus the generated-ID counters, which are read-repaired
// by rollback like any other table.
func captureTables(q Queryer) (tables []string, err error) {
	rows, err := q.Query(`
		SELECT "name" FROM "sqlite_master"
		WHERE "type" = 'table'
			AND "name" NOT LIKE 'game_%'
			AND "name" NOT LIKE 'sqlite_%'
		ORDER BY "name"`)
	if err != nil {
		return nil, wrapBackend(err, "list rule tables")
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, wrapBackend(err, "scan table name")
		}
		tables = append(tables, name)
	}
	if err = rows.Err(); err != nil {
		return nil, wrapBackend(err, "list rule tables")
	}
	return append(tables, tableIds), nil
}

func tableColumns(q Queryer, table string) (cols []string, err error) {
	rows, err := q.Query(fmt.Sprintf(`PRAGMA table_info("%s")`, table))
	if err != nil {
		return nil, wrapBackend(err, "table info of %s", table)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err = rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, wrapBackend(err, "scan table info of %s", table)
		}
		cols = append(cols, name)
	}
	return cols, wrapBackend(rows.Err(), "table info of %s", table)
}

// captureTriggerSQL builds the three capture triggers for one table. Each
// trigger records the inverse statement of the row change into the
// changelog, guarded so that replaying an undo script does not capture
// itself. Rule tables must be ordinary rowid tables; generated row IDs
// should come from the Ids allocator so that rollback repairs them.
func captureTriggerSQL(table string, cols []string) []string {
	var (
		updateSets  = make([]string, len(cols))
		insertCols  = make([]string, len(cols))
		insertVals  = make([]string, len(cols))
		guard       = `WHEN (SELECT "active" FROM "game_capture") = 1`
		triggerBase = fmt.Sprintf("game_capture_%s", table)
	)
	for i, col := range cols {
		updateSets[i] = fmt.Sprintf(`"%s"=' || quote(OLD."%s") || '`, col, col)
		insertCols[i] = fmt.Sprintf(`"%s"`, col)
		insertVals[i] = fmt.Sprintf(`' || quote(OLD."%s") || '`, col)
	}

	insertTrigger := fmt.Sprintf(`
		CREATE TRIGGER IF NOT EXISTS "%s_i" AFTER INSERT ON "%s" %s BEGIN
			INSERT INTO "game_changelog" ("stmt") VALUES
				('DELETE FROM "%s" WHERE rowid=' || NEW.rowid);
		END`, triggerBase, table, guard, table)

	updateTrigger := fmt.Sprintf(`
		CREATE TRIGGER IF NOT EXISTS "%s_u" AFTER UPDATE ON "%s" %s BEGIN
			INSERT INTO "game_changelog" ("stmt") VALUES
				('UPDATE "%s" SET %s WHERE rowid=' || OLD.rowid);
		END`, triggerBase, table, guard, table, strings.Join(updateSets, ","))

	deleteTrigger := fmt.Sprintf(`
		CREATE TRIGGER IF NOT EXISTS "%s_d" AFTER DELETE ON "%s" %s BEGIN
			INSERT INTO "game_changelog" ("stmt") VALUES
				('INSERT INTO "%s" (rowid,%s) VALUES (' || OLD.rowid || ',%s)');
		END`, triggerBase, table, guard, table,
		strings.Join(insertCols, ","), strings.Join(insertVals, ","))

	return []string{insertTrigger, updateTrigger, deleteTrigger}
}

// createCaptureTriggers installs capture triggers for every covered table
// that does not have them yet. Called during schema setup, and again on
// re-attach so that tables added by a schema migration get covered too.
func createCaptureTriggers(tx *sql.Tx) (err error) {
	tables, err := captureTables(tx)
	if err != nil {
		return
	}
	for _, table := range tables {
		var cols []string
		if cols, err = tableColumns(tx, table); err != nil {
			return
		}
		for _, stmt := range captureTriggerSQL(table, cols) {
			if _, err = tx.Exec(stmt); err != nil {
				return wrapBackend(err, "create capture trigger on %s", table)
			}
		}
	}
	return
}

// CollectUndo drains the changelog recorded since the transaction began
// and returns it encoded as the block's undo entry. The statements are
// stored newest-first, the order in which they must be replayed.
func (s *SQLiteStorage) CollectUndo(parent types.BlockHash) (undo types.UndoData, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil, storage.ErrNoTransaction
	}
	script := undoScript{Parent: parent.Hex()}
	rows, err := s.tx.Query(`SELECT "stmt" FROM "game_changelog" ORDER BY "seq" DESC`)
	if err != nil {
		return nil, wrapBackend(err, "read changelog")
	}
	defer rows.Close()
	for rows.Next() {
		var stmt string
		if err = rows.Scan(&stmt); err != nil {
			return nil, wrapBackend(err, "scan changelog")
		}
		script.Stmts = append(script.Stmts, stmt)
	}
	if err = rows.Err(); err != nil {
		return nil, wrapBackend(err, "read changelog")
	}
	if _, err = s.tx.Exec(`DELETE FROM "game_changelog"`); err != nil {
		return nil, wrapBackend(err, "drain changelog")
	}
	buf, err := utils.EncodeMsgPack(&script)
	if err != nil {
		return nil, wrapBackend(err, "encode undo script")
	}
	return types.UndoData(buf.Bytes()), nil
}

// ApplyUndo replays an undo script inside the open transaction, restoring
// the covered tables to their state before the corresponding block was
// attached. Capture is suspended while replaying.
func (s *SQLiteStorage) ApplyUndo(undo types.UndoData) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return storage.ErrNoTransaction
	}
	var script undoScript
	if err = utils.DecodeMsgPack([]byte(undo), &script); err != nil {
		return wrapBackend(err, "decode undo script")
	}
	if _, err = s.tx.Exec(`UPDATE "game_capture" SET "active" = 0`); err != nil {
		return wrapBackend(err, "suspend capture")
	}
	defer func() {
		if _, rerr := s.tx.Exec(`UPDATE "game_capture" SET "active" = 1`); rerr != nil && err == nil {
			err = wrapBackend(rerr, "resume capture")
		}
	}()
	for i, stmt := range script.Stmts {
		if _, err = s.tx.Exec(stmt); err != nil {
			return wrapBackend(err, "replay undo statement #%d", i)
		}
	}
	return
}
