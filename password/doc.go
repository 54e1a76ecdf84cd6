// Package password is the credential hasher: argon2id hashing and verification.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The same hasher protects account passwords and the stored refresh-token
// digest. Password policy is not enforced here.
package password
