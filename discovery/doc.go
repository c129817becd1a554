// Package discovery forms the address book of a group of peers running on the
// same host without listing the addresses up front.
//
// Every peer binds the first free port of a shared range and serves the
// address book it knows so far. Gather polls the other ports of the range and
// merges the books it finds until every rank of the group has an address:
//
//	d, err := discovery.New(discovery.Entry{Rank: 2, Address: "localhost:41000"})
//	if err != nil {
//		return err
//	}
//	defer d.Close()
//	addresses, err := d.Gather(ctx, 4)
//
// Books are merged transitively, so a peer can still complete its book from
// the others after some of the group has already left.
package discovery
