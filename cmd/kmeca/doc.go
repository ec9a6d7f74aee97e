// Package main (cmd/kmeca) is a small certificate authority for lab
// deployments. It creates the CA that kme-server trusts with --client-ca
// and issues the KME server certificate and one client certificate per SAE.
//
//	kme-ca --dir ./pki init
//	kme-ca --dir ./pki issue-server --name KME_LAB_001 --host kme.lab
//	kme-ca --dir ./pki issue-sae --sae-id SAE_001
//	kme-ca --dir ./pki verify --cert ./pki/SAE_001.crt --key ./pki/SAE_001.key --expect-cn SAE_001
package main
