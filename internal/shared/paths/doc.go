// Package paths provides the on-disk layout of the add-on data directory.
//
//	<root>/staging/<addon-id>    extracted packages pending consent
//	<root>/installed/<addon-id>  approved add-on files
//	<root>/records/<addon-id>.json  install records (file store)
//	<root>/backups/<addon-id>    previous version during an update
//	<root>/addons.db             install records (sqlite store)
package paths
