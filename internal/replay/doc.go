// Package replay previews how agent sessions look to the supervising human.
//
// A script is a JSONL file of store events and human actions:
//
//	{"op":"session","session":"s1","dir":"/src/app","runner":"claude"}
//	{"op":"output","session":"s1","text":"Reading the code"}
//	{"op":"permission","session":"s1","request_id":"r1","tool":"Bash","input":{"command":"go test ./..."}}
//	{"op":"reply","session":"s1","text":"allow Bash","actor":"alice"}
//	{"op":"advance","ms":2000}
//	{"op":"exit","session":"s1","code":0}
//
// A Runner feeds agent-side steps through the subscriber, the manager and
// one bridge per transport, exactly as a live host would. Human-side steps
// go straight to the manager. The clock is fake: buffered output and
// notification batches are only released by advance steps and by the final
// drain, so a replay always renders the same way.
//
// Every host callback the bridges make is answered by a scripted Host and
// recorded, which makes a replay usable as an end-to-end test fixture.
package replay
