// Package sqlprep rewrites raw SQL statements before execution.
//
// A Preprocessor holds an ordered list of rules. Each rule is a matcher plus a
// replacement, applied in sequence:
//   - prefix_<word> table names get the configured table prefix
//   - %%USERID%%, %%COURSEID%%, %%CATEGORYID%% become 0
//   - %%STARTTIME%% becomes 0 and %%ENDTIME%% becomes 2145938400
//   - %%WWWROOT%% becomes the configured site URL
//   - any other %%TOKEN%% is removed
//
// The context tokens (user, course, category) have no meaningful value in a
// background job; 0 keeps the SQL valid but the query will not filter as it
// would in a request.
package sqlprep
