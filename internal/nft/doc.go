// Package nft builds, sends and decodes nf_tables netlink messages.
//
// Objects ([Table], [Chain], [Rule], [Set], [SetElements]) know how to
// encode themselves for an [Op]. A [Batch] frames them between the begin
// and end markers of an nfnetlink transaction and numbers every message, so
// the kernel's replies can be mapped back to the object that caused them:
//
//	b := conn.NewBatch()
//	b.Add(table, nft.OpAdd)
//	b.Add(chain, nft.OpAdd)
//	b.Add(nft.NewRule(chain, exprs...), nft.OpAdd)
//	b.Finalize()
//	err := conn.Commit(ctx, b)
//
// A rejected batch is applied by the kernel not at all. [Conn.Commit]
// still reads every reply and returns them together in a [*CommitError].
//
// Dumps (ListTables, ListChains, ListRules, ListSets, ListSetElements) are
// iterators and stream objects as the kernel sends them.
//
// [Conn] talks to a [Transport]. On Linux [DialSocket] opens a
// NETLINK_NETFILTER socket, optionally inside a named network namespace;
// [FakeTransport] stands in for the kernel in tests.
package nft
