package model

// Package model defines domain data structures shared by the queue: queue items,
// history entries, progress snapshots, media metadata and the download status
// enum with its explicit transition table.
