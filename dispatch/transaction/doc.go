// Package transaction defines the unit of work dispatched by the pooler.
//
// Core pieces:
//   - Transaction carries the operation, its scheduling metadata and the
//     status history.
//   - Status enforces the lifecycle graph; Transition rejects any other edge.
//   - Value is a tagged payload value (literal, reference to another
//     transaction's result, or dispatch-time clock) resolved at dispatch time.
//   - ParsePlaceholders converts the "{{table.field}}" string convention into
//     references for requests submitted as a group.
package transaction
