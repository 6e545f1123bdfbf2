// Package cronsql runs tiered SQL query files with per-file throttling.
//
// Query files live under a base directory in one folder per tier:
//
//	<base>/hourly/*.sql
//	<base>/daily/*.sql
//	<base>/weekly/*.sql
//	<base>/monthly/*.sql
//
// Every cycle walks the tiers in that order. A file is due when its stored
// next-run time is not in the future. Before a due file executes, its next-run
// time is set to now + tier interval, so a crash mid-file skips the file until
// the next window instead of re-running it on the next trigger.
//
// File text is split on ';' without quote awareness: a ';' inside a string
// literal or comment splits the statement. Statements run in order through the
// sqlprep preprocessor; the first failing statement ends that file, earlier
// statements are not rolled back, and the cycle moves on to the next file.
package cronsql
