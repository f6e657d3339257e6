// Package executor runs a rendered transaction under the elevation helper.
//
// An Executor is single-use. Execute validates the archive, writes the
// transaction to disk, launches "<helper> <artifact>" in its own process
// group and streams every output line as it arrives. The attempt ends with
// exactly one completion event: success, declined authorization (helper exit
// 126 or 127), failure with the last output lines as detail, or a timeout
// after which the whole process tree is killed. The artifact is removed on
// every terminal path.
package executor
