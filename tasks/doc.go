// Package tasks drives agents turn by turn.
//
// A Task wraps one agent together with the policy for running it: the
// sub-tasks it may hand messages to, whether it stops after a single
// reasoning step, whether it may hand the turn to a human, and how many
// turns it may take before giving up.
//
// # Turns
//
// Each turn consumes one pending envelope:
//
//	structured message  → agent.Handle, or agent.Fallback if unhandled
//	model free text     → agent.Fallback
//	anything else       → agent.Respond (the reasoning step)
//
// The handler's reply decides what becomes pending next. Continue feeds
// text back to the agent, Forward runs a sub-task and makes its result
// pending, Done and Finish end the task, AskUser hands over to the human.
//
// # Routing
//
// Sub-tasks are fixed when the task is created. Forwarding to a name that
// is not in the table fails with UNKNOWN_RECIPIENT:
//
//	critic, _ := tasks.New(criticAgent, tasks.Config{SingleRound: false})
//	root, err := tasks.New(assistant, tasks.Config{Interactive: true}, critic)
//	res, err := root.Run(ctx, agent.Envelope{Source: agent.SourceUser, Text: q})
//
// # Thread Safety
//
// A Task is not safe for concurrent use. Turn-taking is cooperative and
// a task tree belongs to a single session.
package tasks
