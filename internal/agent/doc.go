// Package agent wraps a language model as the reasoning agent that answers
// chat turns.
//
// # Usage
//
//	client, _ := llm.New(cfg.Agent, logger)
//	a := agent.New(client, cfg.Agent, logger)
//	reply, err := a.Reply(ctx, []llm.Message{
//	    {Role: llm.RoleUser, Content: "What is the capital of France?"},
//	})
//
// The conversation passed to Reply is the full prior history in order,
// ending with the new user message. The configured system prompt, if any,
// is prepended. Reply makes exactly one model call; timeouts come from the
// caller's context.
package agent
