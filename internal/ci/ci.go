// Package ci maps CI provider environment variables to span tags.
package ci

import (
	"net/url"
	"os"
	"strings"
)

// Tag names.
const (
	PipelineID     = "ci.pipeline.id"
	PipelineName   = "ci.pipeline.name"
	PipelineNumber = "ci.pipeline.number"
	PipelineURL    = "ci.pipeline.url"
	ProviderName   = "ci.provider.name"
	WorkspacePath  = "ci.workspace_path"
	JobURL         = "ci.job.url"
	JobName        = "ci.job.name"
	StageName      = "ci.stage.name"
	RepositoryURL  = "git.repository_url"
	CommitSHA      = "git.commit.sha"
	Branch         = "git.branch"
	Tag            = "git.tag"
)

// FromEnv returns the tags for the CI provider detected in the process environment.
func FromEnv() map[string]string {
	return Tags(os.Getenv)
}

// Tags returns the tags for the CI provider detected through getenv. It
// returns an empty map outside CI. Empty values are dropped.
func Tags(getenv func(string) string) map[string]string {
	var tags map[string]string
	switch {
	case getenv("GITHUB_ACTIONS") != "" || getenv("GITHUB_ACTION") != "":
		tags = github(getenv)
	case getenv("GITLAB_CI") != "":
		tags = gitlab(getenv)
	case getenv("CIRCLECI") != "":
		tags = circleci(getenv)
	case getenv("JENKINS_URL") != "":
		tags = jenkins(getenv)
	default:
		return map[string]string{}
	}

	if v, ok := tags[RepositoryURL]; ok {
		tags[RepositoryURL] = stripCredentials(v)
	}
	for _, k := range []string{Branch, Tag} {
		if v, ok := tags[k]; ok {
			tags[k] = normalizeRef(v)
		}
	}
	for k, v := range tags {
		if v == "" {
			delete(tags, k)
		}
	}
	return tags
}

func github(getenv func(string) string) map[string]string {
	repo := getenv("GITHUB_REPOSITORY")
	sha := getenv("GITHUB_SHA")
	ref := getenv("GITHUB_HEAD_REF")
	if ref == "" {
		ref = getenv("GITHUB_REF")
	}
	tags := map[string]string{
		PipelineID:     getenv("GITHUB_RUN_ID"),
		PipelineName:   getenv("GITHUB_WORKFLOW"),
		PipelineNumber: getenv("GITHUB_RUN_NUMBER"),
		ProviderName:   "github",
		CommitSHA:      sha,
		WorkspacePath:  getenv("GITHUB_WORKSPACE"),
	}
	if repo != "" {
		tags[RepositoryURL] = "https://github.com/" + repo + ".git"
		tags[PipelineURL] = "https://github.com/" + repo + "/commit/" + sha + "/checks"
	}
	setRef(tags, ref)
	return tags
}

func gitlab(getenv func(string) string) map[string]string {
	tags := map[string]string{
		PipelineID:     getenv("CI_PIPELINE_ID"),
		PipelineName:   getenv("CI_PROJECT_PATH"),
		PipelineNumber: getenv("CI_PIPELINE_IID"),
		PipelineURL:    getenv("CI_PIPELINE_URL"),
		ProviderName:   "gitlab",
		CommitSHA:      getenv("CI_COMMIT_SHA"),
		RepositoryURL:  getenv("CI_REPOSITORY_URL"),
		WorkspacePath:  getenv("CI_PROJECT_DIR"),
		JobURL:         getenv("CI_JOB_URL"),
		JobName:        getenv("CI_JOB_NAME"),
		StageName:      getenv("CI_JOB_STAGE"),
		Branch:         getenv("CI_COMMIT_BRANCH"),
		Tag:            getenv("CI_COMMIT_TAG"),
	}
	if tags[Branch] == "" {
		tags[Branch] = getenv("CI_COMMIT_REF_NAME")
	}
	return tags
}

func circleci(getenv func(string) string) map[string]string {
	return map[string]string{
		PipelineID:     getenv("CIRCLE_WORKFLOW_ID"),
		PipelineName:   getenv("CIRCLE_PROJECT_REPONAME"),
		PipelineNumber: getenv("CIRCLE_BUILD_NUM"),
		PipelineURL:    getenv("CIRCLE_BUILD_URL"),
		JobURL:         getenv("CIRCLE_BUILD_URL"),
		JobName:        getenv("CIRCLE_JOB"),
		ProviderName:   "circleci",
		CommitSHA:      getenv("CIRCLE_SHA1"),
		RepositoryURL:  getenv("CIRCLE_REPOSITORY_URL"),
		WorkspacePath:  getenv("CIRCLE_WORKING_DIRECTORY"),
		Branch:         getenv("CIRCLE_BRANCH"),
		Tag:            getenv("CIRCLE_TAG"),
	}
}

func jenkins(getenv func(string) string) map[string]string {
	tags := map[string]string{
		PipelineID:     getenv("BUILD_TAG"),
		PipelineNumber: getenv("BUILD_NUMBER"),
		PipelineName:   getenv("JOB_NAME"),
		PipelineURL:    getenv("BUILD_URL"),
		ProviderName:   "jenkins",
		CommitSHA:      getenv("GIT_COMMIT"),
		RepositoryURL:  getenv("GIT_URL"),
		WorkspacePath:  getenv("WORKSPACE"),
	}
	setRef(tags, getenv("GIT_BRANCH"))
	return tags
}

// setRef stores ref as a tag when it points at a tag, as a branch otherwise.
func setRef(tags map[string]string, ref string) {
	if strings.Contains(ref, "tags/") {
		tags[Tag] = ref
		return
	}
	tags[Branch] = ref
}

func normalizeRef(ref string) string {
	for _, prefix := range []string{"origin/", "refs/heads/", "refs/tags/", "tags/"} {
		ref = strings.ReplaceAll(ref, prefix, "")
	}
	return ref
}

// stripCredentials removes user info from an http(s) repository URL. SSH
// style URLs are returned as is.
func stripCredentials(repositoryURL string) string {
	if strings.HasPrefix(repositoryURL, "git@") {
		return repositoryURL
	}
	u, err := url.Parse(repositoryURL)
	if err != nil || u.Host == "" {
		return repositoryURL
	}
	return u.Scheme + "://" + u.Hostname() + u.Path
}
