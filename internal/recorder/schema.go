package recorder

import (
	"context"
	"fmt"

	"codeduel/internal/common/db"
)

// schema is applied statement by statement; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS duel_records (
	duel_id       VARCHAR(64)  NOT NULL PRIMARY KEY,
	task_id       VARCHAR(128) NOT NULL,
	status        VARCHAR(16)  NOT NULL,
	winner_id     VARCHAR(64)  NULL,
	reason        VARCHAR(32)  NOT NULL,
	is_private    TINYINT(1)   NOT NULL DEFAULT 0,
	created_at    DATETIME(3)  NOT NULL,
	start_time    DATETIME(3)  NULL,
	end_time      DATETIME(3)  NULL,
	recorded_at   DATETIME(3)  NOT NULL,
	KEY idx_duel_task (task_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS duel_players (
	duel_id         VARCHAR(64) NOT NULL,
	user_id         VARCHAR(64) NOT NULL,
	submission_id   VARCHAR(64) NULL,
	verdict         VARCHAR(32) NULL,
	submission_time DATETIME(3) NULL,
	outcome         VARCHAR(8)  NOT NULL,
	old_rating      INT         NULL,
	new_rating      INT         NULL,
	PRIMARY KEY (duel_id, user_id),
	KEY idx_player_user (user_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS player_ratings (
	user_id    VARCHAR(64) NOT NULL PRIMARY KEY,
	rating     INT         NOT NULL,
	wins       BIGINT      NOT NULL DEFAULT 0,
	losses     BIGINT      NOT NULL DEFAULT 0,
	draws      BIGINT      NOT NULL DEFAULT 0,
	updated_at DATETIME(3) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS submission_records (
	submission_id   VARCHAR(64) NOT NULL PRIMARY KEY,
	duel_id         VARCHAR(64) NOT NULL,
	user_id         VARCHAR(64) NOT NULL,
	language        VARCHAR(32) NOT NULL,
	status          VARCHAR(32) NOT NULL,
	sequence        BIGINT      NOT NULL,
	code            MEDIUMTEXT  NOT NULL,
	test_results    JSON        NOT NULL,
	compile_log     TEXT        NULL,
	error_message   TEXT        NULL,
	submitted_at    DATETIME(3) NOT NULL,
	finished_at     DATETIME(3) NULL,
	KEY idx_submission_duel (duel_id),
	KEY idx_submission_user (user_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates the recorder tables when missing.
func Migrate(ctx context.Context, database db.Database) error {
	for i, stmt := range schema {
		if _, err := database.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
