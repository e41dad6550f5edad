// Package llm provides the provider-neutral conversation model shared by every
// framework adapter and by the chat engine.
//
// # Core Concepts
//
//  1. Messages: Message is one conversation turn with a Role (system, user,
//     assistant, tool), optional text content, tool calls and the model that
//     produced it. Update merges streamed pieces; Edit replaces fields.
//
//  2. Conversation: an ordered, instance-owned sequence of messages. Only
//     index 0 may hold the system prompt.
//
//  3. Adapters: the Adapter interface offers Stream for incremental output and
//     CompleteJSON for a single non-streamed result. Both return a pull-based
//     ChunkStream of Text, ToolCalls, Info and Warning chunks.
//
//  4. Tool calls: ToolCallBuffer assembles streamed tool-call fragments keyed
//     by index and parses their JSON arguments once the turn ends.
//
//  5. Frameworks: FrameworkRegistry maps model names and aliases to the
//     framework serving them and gates availability on credentials.
//
//  6. Errors: Error carries normalised provider failures; ValidationError,
//     EmptyCompletionError, UnknownModelError, ToolExecutionError,
//     PersistenceError and NoFrameworksAvailableError cover the engine's
//     own failure classes.
//
// Usage Example
//
//	base, err := openai.NewAdapter(openai.Options{APIKey: key})
//	if err != nil {
//	    return err
//	}
//	adapter := llm.WrapAdapter(base, llm.LoggingMiddleware(logger, llm.FrameworkOpenAI))
//
//	conv := llm.NewConversation()
//	_ = conv.Append(llm.RoleUser, llm.String("Hello!"), nil, nil)
//
//	stream, err := adapter.Stream(ctx, &llm.Request{Model: "gpt-4o", Conversation: conv})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for stream.Next() {
//	    chunk := stream.Chunk()
//	    ...
//	}
//	return stream.Err()
//
// # Extension Points
//
// To add a new framework:
//  1. Implement the Adapter interface
//  2. Project Conversation messages to the vendor's wire form
//  3. Normalise streamed output into Chunks, buffering tool-call fragments
//  4. Translate vendor errors to llm.Error
package llm
