package sqlstore

// Three tables scoped by userid. The two compound indexes back the hot
// paths: (userid, seq) for head lookup and committed-range listing,
// (userid, next_head) for the leaf check, the ancestor bump and the
// chain commit.

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		userid TEXT NOT NULL,
		trnid TEXT NOT NULL,
		parent TEXT NOT NULL,
		committed INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		prev_head TEXT NOT NULL,
		next_head TEXT NOT NULL,
		PRIMARY KEY (userid, trnid)
	)`,
	`CREATE INDEX IF NOT EXISTS trn_usr_seq ON transactions (userid, seq)`,
	`CREATE INDEX IF NOT EXISTS trn_usr_nhead ON transactions (userid, next_head)`,
	`CREATE TABLE IF NOT EXISTS transaction_chunks (
		userid TEXT NOT NULL,
		trnid TEXT NOT NULL,
		idx INTEGER NOT NULL,
		chunk TEXT NOT NULL,
		PRIMARY KEY (userid, trnid, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		userid TEXT NOT NULL,
		chunk TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (userid, chunk)
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		userid VARCHAR(36) NOT NULL,
		trnid VARCHAR(36) NOT NULL,
		parent VARCHAR(36) NOT NULL,
		committed TINYINT NOT NULL,
		seq INTEGER NOT NULL,
		prev_head VARCHAR(36) NOT NULL,
		next_head VARCHAR(36) NOT NULL,
		PRIMARY KEY (userid, trnid),
		INDEX trn_usr_seq (userid, seq),
		INDEX trn_usr_nhead (userid, next_head)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS transaction_chunks (
		userid VARCHAR(36) NOT NULL,
		trnid VARCHAR(36) NOT NULL,
		idx INTEGER NOT NULL,
		chunk VARCHAR(64) NOT NULL,
		PRIMARY KEY (userid, trnid, idx)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS chunks (
		userid VARCHAR(36) NOT NULL,
		chunk VARCHAR(64) NOT NULL,
		payload MEDIUMBLOB NOT NULL,
		PRIMARY KEY (userid, chunk)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
