// Package commands defines the ttpedia CLI and wires dependencies for subcommands.
//
// Commands
//
//   - identity       Create the signing keypair if needed and print its fingerprint
//   - import <file>  Create a document from a local file and print its id
//   - show <id>      Print the current content of a document
//   - watch <id>     Print the content every time the document changes
//   - submit <id>    Ask the backend to compile a document
//
// # Implementation
//
// The root command builds the dependency graph (key store, identity service,
// sync transport configuration, submission client) before any subcommand
// runs. Document commands open a replica session on demand and close it on
// exit so the sync connection never outlives the command.
package commands
