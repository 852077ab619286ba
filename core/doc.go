// Package core implements the troupe actor messaging runtime.
//
// It provides the correlation registry behind the ask pattern, the
// message plan interpreter, the handler result processor with behavior
// switching, and the System front door that ties them to mailbox-backed
// actors.
package core
