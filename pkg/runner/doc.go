// Package runner provides the bill digitization pipeline and the model
// backend it runs on.
//
// This package contains:
//   - Pipeline: the staged executor that turns a bill image into a Bill
//   - OpenAIModel: a models.Model backed by an OpenAI compatible endpoint
//   - Config: YAML model configuration and the builders derived from it
//
// Most users should import the root package github.com/zhufucdev/ledoxide
// instead of this package directly.
package runner
