package backup

// scanBackups rebuilds the index summaries from the backup directory alone.
// Each valid file is read again to recover its time; the index file is never touched.
func scanBackups(store *Store) ([]Summary, error) {
	names, err := store.Scan()
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(names))
	for _, name := range names {
		record, err := store.Read(name)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, Summary{Name: name, Time: record.Time()})
	}

	return summaries, nil
}
