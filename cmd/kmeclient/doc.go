// Package main (cmd/kmeclient) is a command-line SAE for exercising a KME.
//
// The client authenticates with an SAE certificate (--cert/--key) issued by
// the deployment CA and prints ETSI responses as JSON:
//
//	kme-client --cert sae1.pem --key sae1.key --ca ca.pem status --slave SAE_002
//	kme-client --cert sae1.pem --key sae1.key --ca ca.pem enc-keys --slave SAE_002 --number 2
//	kme-client --cert sae2.pem --key sae2.key --ca ca.pem dec-keys --master SAE_001 --key-id <uuid>
package main
