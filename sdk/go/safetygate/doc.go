// Package safetygate runs the safety pipeline in-process for Go services.
// Every call goes through session tracking, pre-check detectors, boundary
// enforcement, the model, hook detection and wellbeing scoring, and is
// recorded in the audit log. Failures block.
//
// Usage:
//
//	sg, err := safetygate.New(
//	    safetygate.WithAuditLog("/var/log/safetygate/audit.jsonl"),
//	    safetygate.WithModel(callModel),
//	)
//	defer sg.Close()
//
//	ask := sg.Guard(safetygate.Caller{ID: "u1", Verified: true, AgeBracket: "adult"})
//	reply, err := ask(ctx, "what is the capital of France?")
//
// The SDK links directly against internal packages for zero-subprocess
// overhead. External users import github.com/ppiankov/safetygate/sdk/go/safetygate.
package safetygate
