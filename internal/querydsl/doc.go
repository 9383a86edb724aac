// Package querydsl decodes query models from YAML documents.
//
// A document names its main source, an optional list of body clauses, an
// optional selector and result operators:
//
//	params:
//	  city: string?
//	from: {c: Customer}
//	body:
//	  - where: [eq, c.City, $city]
//	  - orderBy: c.Name
//	    desc: true
//	select: [new, {Id: c.ID, Upper: [call, c.Name, ToUpper]}]
//	ops: [{take: 10}]
//
// # Sources
//
// A source is a single `alias: value` pair. The value is an entity name, or
// a mapping with one of:
//
//	{entity: Customer, sql: "SELECT ...", args: [...]}  literal SQL rows
//	{query: <document>}                                  nested query
//	{group: g}                                           elements of grouping g
//	{param: ids, type: int}                              slice parameter
//
// # Expressions
//
// Plain scalars starting with a declared source alias are member paths
// (c.Customer.Name); a plain `$name` is a parameter; every other scalar,
// and every quoted one, is a constant. Lists are operator calls:
//
//	[eq|ne|lt|le|gt|ge, a, b]    [add|sub|mul|div|mod|coalesce, a, b]
//	[and|or, a, b, ...]          [not|neg, a]
//	[if, test, a, b]             [convert, a, int?]
//	[null, string?]              [const, c]
//	[call, recv, Method, args...] [fn, strings.ToUpper, args...]
//	[new, {Name: a, ...}]        [query, <document>]
//	[key, g]
//
// Type names are the ones model.TypeByName accepts; a trailing "?" makes
// a type nullable.
package querydsl
