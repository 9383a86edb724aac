// Package harness provides conformance testing for query translation.
//
// A scenario seeds a fresh in-memory database, runs one query written in
// the querydsl format and checks the SQL the query was translated to,
// whether part of it was left for client evaluation, and its result.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	model: models/shop.cue        # optional; fixture model if empty
//	seed:                         # optional; fixture rows if empty
//	  - table: Customers
//	    rows:
//	      - {Id: 1, Name: Ann}
//	params: {name: Ann}
//	query:
//	  params: {name: string}
//	  from: {c: Customer}
//	  body:
//	    - where: [eq, c.Name, $name]
//	  select: c.ID
//	expect:
//	  sql: 'SELECT "c"."Id" FROM "Customers" AS "c" WHERE "c"."Name" = ?'
//	  client: false
//	  result: [1]
//	assertions:
//	  - type: result_count
//	    count: 1
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - sql_contains: the store command contains a fragment
//   - sql_not_contains: the store command does not contain a fragment
//   - result_count: the result sequence has exactly N elements
//   - result_contains: some result element matches a value (subset match)
//
// # Deterministic Testing
//
// Scenarios run with a fixed compile ID and an isolated in-memory SQLite
// database, so results and snapshots are reproducible. RunWithGolden
// compares a JSON snapshot (SQL, placement, result) against
// testdata/golden/{name}.golden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/customers_by_name.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
