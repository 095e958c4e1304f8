// Package core provides a small, stable facade over the clauselens pipeline
// for programs that embed it. Open assembles every component from a
// configuration file; the Engine it returns submits runs and answers the
// same queries as the HTTP server.
//
// Example:
//
//	fc, _ := config.Load(".")
//	eng, err := core.Open(ctx, core.Settings{Config: fc})
//	if err != nil { /* handle */ }
//	defer eng.Close()
//	res, err := eng.Analyze(ctx, core.Ref{ChainID: "1", Address: "0x..."}, core.Options{})
//	_ = core.MarshalResults(os.Stdout, res)
package core
