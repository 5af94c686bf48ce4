package db

// PersistedSession is one row of the persisted session index.
// Timestamps are Unix milliseconds.
type PersistedSession struct {
	ID               string `json:"id"`
	FirstPersistedAt int64  `json:"firstPersistedAt"`
	LastPersistedAt  int64  `json:"lastPersistedAt"`
	PersistCount     int64  `json:"persistCount"`
	SizeBytes        int64  `json:"sizeBytes"`
}
