package domain

// ViewRow is one row of an auth-view query against the users database.
// Doc is populated only when the query asked for included docs.
type ViewRow struct {
	ID  string
	Key string
	Doc *UserDoc
}
