// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package plugin defines the data model shared by every stage of the loader:
// the Unit capability interface implemented by imported plugins, the shared
// Context injected into them, the Dispatcher contract used for cross-call
// dispatch, and the typed errors surfaced along the pipeline.
package plugin
