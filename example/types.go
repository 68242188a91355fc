package main

import "time"

// BuildStatus is the step a build is in, or its final state.
type BuildStatus string

const (
	StatusNew       BuildStatus = "new"
	StatusClone     BuildStatus = "clone"
	StatusBuild     BuildStatus = "build"
	StatusSuccess   BuildStatus = "success"
	StatusCancelled BuildStatus = "cancelled"
)

type Repo struct {
	Name          string  `json:"name"`
	Origin        string  `json:"origin"`
	DefaultBranch string  `json:"default_branch"`
	UID           *uint32 `json:"uid"`
	HomeDiskUsage int64   `json:"home_disk_usage"`
}

type Build struct {
	ID           int32       `json:"id"`
	RepoName     string      `json:"repo_name"`
	Branch       string      `json:"branch"`
	CommitHash   string      `json:"commit_hash"`
	Status       BuildStatus `json:"status"`
	Created      time.Time   `json:"created"`
	Start        *time.Time  `json:"start"`
	Finish       *time.Time  `json:"finish"`
	ErrorMessage string      `json:"error_message"`
	Coverage     *float32    `json:"coverage"`
	Version      string      `json:"version"`
	LastLine     string      `json:"last_line"`
	DiskUsage    int64       `json:"disk_usage"`
}

// Push events

type EventRepo struct {
	Repo Repo
}

type EventRemoveRepo struct {
	RepoName string
}

type EventBuild struct {
	RepoName string
	Build    Build
}

type EventRemoveBuild struct {
	RepoName string
	BuildID  int32
}

type EventOutput struct {
	BuildID int32
	Step    string
	Where   string // stdout or stderr
	Text    string
}
