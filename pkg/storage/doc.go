/*
Package storage persists nexus configuration in BoltDB.

Only configuration is stored: name, uuid, geometry and the child URI list.
Runtime state (child health, publication) is rebuilt at restore time, so a
restart never resurrects stale health verdicts.
*/
package storage
